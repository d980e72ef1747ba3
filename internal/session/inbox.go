package session

import (
	"github.com/ashureev/chatrelay/internal/transport"
)

// inbox holds one conversation's messages until its worker gets to them.
// A conversation has at most one worker, so messages are relayed in the
// order the transport delivered them.
type inbox struct {
	queue []transport.RawMessage
}

// enqueue appends msg to its conversation's inbox, starting a worker when
// the inbox was idle. It reports false once the session is closing.
func (r *Registry) enqueue(s *Session, msg transport.RawMessage) bool {
	s.inboxMu.Lock()
	defer s.inboxMu.Unlock()
	if s.closing {
		return false
	}
	if s.inboxes == nil {
		s.inboxes = make(map[string]*inbox)
	}

	box, running := s.inboxes[msg.ConversationID]
	if !running {
		box = &inbox{}
		s.inboxes[msg.ConversationID] = box
	}
	box.queue = append(box.queue, msg)
	if running {
		return true
	}

	s.workers.Add(1)
	go r.drain(s, msg.ConversationID, box)
	return true
}

// drain relays queued messages one at a time and removes the inbox once it
// is empty or the session is gone.
func (r *Registry) drain(s *Session, conversationID string, box *inbox) {
	defer s.workers.Done()
	for {
		s.inboxMu.Lock()
		if len(box.queue) == 0 || s.ctx.Err() != nil {
			if n := len(box.queue); n > 0 {
				r.logger.Debug("Discarding queued messages", "tenant_id", s.tenantID, "conversation_id", conversationID, "count", n)
			}
			delete(s.inboxes, conversationID)
			s.inboxMu.Unlock()
			return
		}
		msg := box.queue[0]
		box.queue[0] = transport.RawMessage{}
		box.queue = box.queue[1:]
		s.inboxMu.Unlock()

		r.relayMessage(s, msg)
	}
}

// closeInbox stops accepting messages and waits for running workers.
// The session context must already be cancelled.
func (s *Session) closeInbox() {
	s.inboxMu.Lock()
	s.closing = true
	s.inboxMu.Unlock()
	s.workers.Wait()
}
