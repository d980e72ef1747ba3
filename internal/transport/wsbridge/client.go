// Package wsbridge implements transport.Client over a WebSocket connection
// to a sidecar process that owns the chat account.
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/transport"
)

// readLimit bounds a single frame; downloaded media travels inline.
const readLimit = 32 << 20

// Client is a bridge connection for one tenant.
type Client struct {
	tenantID string
	endpoint string
	logger   *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu       sync.Mutex
	inflight map[string]chan frame
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Client = (*Client)(nil)

// NewFactory returns a factory that dials endpoint for each tenant.
func NewFactory(endpoint string, logger *slog.Logger) transport.Factory {
	return func(tenantID string) (transport.Client, error) {
		return New(endpoint, tenantID, logger)
	}
}

// New creates an unconnected client.
func New(endpoint, tenantID string, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	q := u.Query()
	q.Set("tenant", tenantID)
	u.RawQuery = q.Encode()

	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		tenantID: tenantID,
		endpoint: u.String(),
		logger:   logger.With("tenant_id", tenantID),
		inflight: make(map[string]chan frame),
		done:     make(chan struct{}),
	}, nil
}

// Connect dials the sidecar and starts delivering events to h. Events stop
// when the client is closed or the connection drops; a drop not caused by
// Close is reported as EventDisconnected.
func (c *Client) Connect(ctx context.Context, h transport.Handler) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return transport.ErrClosed
	}
	c.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial bridge: %w", err)
	}
	conn.SetReadLimit(readLimit)

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()

	c.logger.Info("Bridge connected")
	go c.readLoop(conn, h)
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn, h transport.Handler) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-c.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			c.failInflight()
			if c.isClosed() {
				return
			}
			reason := "connection lost"
			if status := websocket.CloseStatus(err); status != -1 {
				reason = fmt.Sprintf("closed by bridge: %d", status)
			}
			c.logger.Warn("Bridge read failed", "error", err)
			h(transport.Event{Kind: transport.EventDisconnected, Reason: reason})
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Warn("Dropping malformed bridge frame", "error", err)
			continue
		}

		if f.Type == frameResponse {
			c.deliver(f)
			continue
		}
		if ev, ok := f.event(); ok {
			h(ev)
			continue
		}
		c.logger.Debug("Ignoring unknown bridge frame", "type", f.Type)
	}
}

func (c *Client) deliver(f frame) {
	c.mu.Lock()
	ch, ok := c.inflight[f.ID]
	delete(c.inflight, f.ID)
	c.mu.Unlock()
	if !ok {
		c.logger.Debug("Response for unknown request", "id", f.ID)
		return
	}
	ch <- f
}

func (c *Client) failInflight() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, ch := range c.inflight {
		close(ch)
		delete(c.inflight, id)
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// call sends a request frame and waits for its response.
func (c *Client) call(ctx context.Context, req frame) (frame, error) {
	req.ID = uuid.NewString()
	ch := make(chan frame, 1)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return frame{}, transport.ErrClosed
	}
	c.inflight[req.ID] = ch
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.inflight, req.ID)
		c.mu.Unlock()
	}

	data, err := json.Marshal(req)
	if err != nil {
		cleanup()
		return frame{}, fmt.Errorf("encode %s: %w", req.Type, err)
	}

	c.writeMu.Lock()
	conn := c.conn
	if conn == nil {
		c.writeMu.Unlock()
		cleanup()
		return frame{}, errors.New("bridge not connected")
	}
	err = conn.Write(ctx, websocket.MessageText, data)
	c.writeMu.Unlock()
	if err != nil {
		cleanup()
		return frame{}, fmt.Errorf("write %s: %w", req.Type, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return frame{}, fmt.Errorf("%s: %w", req.Type, transport.ErrClosed)
		}
		if resp.Error != "" {
			return frame{}, fmt.Errorf("%s: %s", req.Type, resp.Error)
		}
		return resp, nil
	case <-ctx.Done():
		cleanup()
		return frame{}, ctx.Err()
	case <-c.done:
		return frame{}, transport.ErrClosed
	}
}

func (c *Client) SendText(ctx context.Context, conversationID, text string) error {
	_, err := c.call(ctx, frame{Type: frameSend, ConversationID: conversationID, Text: text})
	return err
}

func (c *Client) DownloadMedia(ctx context.Context, msg transport.RawMessage) (domain.Media, error) {
	resp, err := c.call(ctx, frame{Type: frameDownload, ConversationID: msg.ConversationID, MessageID: msg.ID})
	if err != nil {
		return domain.Media{}, err
	}
	return domain.Media{Data: resp.Data, MimeType: resp.MimeType, Filename: resp.Filename}, nil
}

func (c *Client) Conversations(ctx context.Context) ([]domain.Conversation, error) {
	resp, err := c.call(ctx, frame{Type: frameChats})
	if err != nil {
		return nil, err
	}
	return resp.Chats, nil
}

func (c *Client) State(ctx context.Context) (domain.ConnectionState, error) {
	resp, err := c.call(ctx, frame{Type: frameState})
	if err != nil {
		return domain.StateUninitialized, err
	}
	return domain.ConnectionState(resp.State), nil
}

func (c *Client) Logout(ctx context.Context) error {
	_, err := c.call(ctx, frame{Type: frameLogout})
	return err
}

// Close tears down the connection. It is safe to call more than once.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		c.writeMu.Lock()
		conn := c.conn
		c.writeMu.Unlock()
		if conn != nil {
			err = conn.Close(websocket.StatusNormalClosure, "session ended")
		}
		c.logger.Info("Bridge closed")
	})
	return err
}
