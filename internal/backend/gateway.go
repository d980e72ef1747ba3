// Package backend is the HTTP client for the decision service.
package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ashureev/chatrelay/internal/domain"
	"github.com/ashureev/chatrelay/internal/reply"
	"github.com/google/uuid"
)

var (
	// ErrBackendUnreachable covers timeouts and transport failures.
	ErrBackendUnreachable = errors.New("backend unreachable")
	// ErrBackendBadResponse covers non-2xx statuses and undecodable bodies.
	ErrBackendBadResponse = errors.New("backend bad response")
)

const (
	pathWebhook           = "/webhook"
	pathCategorySelection = "/category-selection"
	pathPollVote          = "/poll-vote"
	pathHealth            = "/health"

	// maxResponseBody bounds how much of a response body is read.
	maxResponseBody = 1 << 20
)

// Choice is a human answer to a pending interaction.
type Choice struct {
	TenantID       string
	ConversationID string
	SenderID       string
	SenderName     string
	OptionCode     int
	Kind           domain.InteractionKind
	Context        domain.ItemContext
}

// Gateway submits items and answers to the decision service.
// Failures never surface as errors; they come back as a generic reply
// directive with Err set.
type Gateway interface {
	SubmitItem(ctx context.Context, item domain.InboundItem) domain.Directive
	SubmitChoice(ctx context.Context, c Choice) domain.Directive
}

// Config holds gateway settings.
type Config struct {
	BaseURL       string
	ItemTimeout   time.Duration
	ChoiceTimeout time.Duration
}

// DefaultConfig returns the default timeouts.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:       baseURL,
		ItemTimeout:   60 * time.Second,
		ChoiceTimeout: 30 * time.Second,
	}
}

// HTTPGateway implements Gateway over HTTP+JSON.
type HTTPGateway struct {
	httpClient *http.Client
	cfg        Config
	logger     *slog.Logger
}

var _ Gateway = (*HTTPGateway)(nil)

// NewHTTPGateway creates a gateway. Timeouts are applied per call, so the
// underlying client carries none.
func NewHTTPGateway(cfg Config, logger *slog.Logger) *HTTPGateway {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig(cfg.BaseURL)
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = def.ItemTimeout
	}
	if cfg.ChoiceTimeout <= 0 {
		cfg.ChoiceTimeout = def.ChoiceTimeout
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &HTTPGateway{
		httpClient: &http.Client{},
		cfg:        cfg,
		logger:     logger,
	}
}

// SubmitItem sends a freshly forwarded item for classification.
func (g *HTTPGateway) SubmitItem(ctx context.Context, item domain.InboundItem) domain.Directive {
	body := webhookRequest{
		TenantID:         item.TenantID,
		ConversationID:   item.ConversationID,
		ConversationName: item.ConversationName,
		SenderID:         item.SenderID,
		SenderName:       item.SenderName,
		Timestamp:        item.SentAt.UTC().Format(time.RFC3339),
		Type:             string(item.Kind),
		Text:             item.Text,
	}
	if item.HasMedia() {
		body.Media = base64.StdEncoding.EncodeToString(item.Media.Data)
		body.MediaMime = item.Media.MimeType
		body.MediaFilename = item.Media.Filename
	}

	var resp webhookResponse
	if err := g.post(ctx, g.cfg.ItemTimeout, pathWebhook, body, &resp, item.TenantID, item.ConversationID); err != nil {
		return failure(err)
	}
	return resp.directive()
}

// SubmitChoice answers a category or validation question.
func (g *HTTPGateway) SubmitChoice(ctx context.Context, c Choice) domain.Directive {
	body := choiceRequest{
		PollID:         c.Context.PendingID,
		Voter:          c.SenderID,
		VoterName:      c.SenderName,
		SelectedOption: c.OptionCode,
		GroupID:        c.ConversationID,
	}

	if c.Kind == domain.InteractionCategory {
		var resp categoryResponse
		if err := g.post(ctx, g.cfg.ChoiceTimeout, pathCategorySelection, body, &resp, c.TenantID, c.ConversationID); err != nil {
			return failure(err)
		}
		return resp.directive()
	}

	var resp voteResponse
	if err := g.post(ctx, g.cfg.ChoiceTimeout, pathPollVote, body, &resp, c.TenantID, c.ConversationID); err != nil {
		return failure(err)
	}
	return resp.directive()
}

// Ping checks that the backend answers its health endpoint.
func (g *HTTPGateway) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.cfg.BaseURL+pathHealth, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			g.logger.Debug("failed to close health response body", "error", closeErr)
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: health returned %d", ErrBackendBadResponse, resp.StatusCode)
	}
	return nil
}

func failure(err error) domain.Directive {
	d := domain.Reply(reply.GenericErrorText)
	d.Err = err
	return d
}

// post sends one JSON request. It is never retried: a retried submission
// could post the same payment twice.
func (g *HTTPGateway) post(ctx context.Context, timeout time.Duration, path string, in, out any, tenantID, conversationID string) error {
	requestID := uuid.NewString()
	log := g.logger.With(
		"endpoint", path,
		"request_id", requestID,
		"tenant_id", tenantID,
		"conversation_id", conversationID,
	)

	payload, err := json.Marshal(in)
	if err != nil {
		log.Error("Failed to encode backend request", "error", err)
		return fmt.Errorf("%w: encode request: %w", ErrBackendBadResponse, err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.cfg.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		log.Error("Failed to build backend request", "error", err)
		return fmt.Errorf("%w: build request: %w", ErrBackendUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		log.Error("Backend request failed", "error", err, "elapsed", time.Since(start))
		return fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Debug("failed to close backend response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		log.Error("Failed to read backend response", "error", err, "status_code", resp.StatusCode)
		return fmt.Errorf("%w: read body: %w", ErrBackendUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Error("Backend returned non-2xx status",
			"status_code", resp.StatusCode,
			"body", truncate(string(data), 512),
		)
		return fmt.Errorf("%w: %s returned %d", ErrBackendBadResponse, path, resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		log.Error("Failed to decode backend response",
			"error", err,
			"body", truncate(string(data), 512),
		)
		return fmt.Errorf("%w: decode body: %w", ErrBackendBadResponse, err)
	}

	log.Debug("Backend request completed", "status_code", resp.StatusCode, "elapsed", time.Since(start))
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
