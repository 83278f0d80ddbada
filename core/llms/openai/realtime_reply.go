package openai

import (
	"context"
	"fmt"

	"github.com/koscakluka/phonio/core/llms"
	"github.com/koscakluka/phonio/core/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type pendingReply struct {
	responseID string
	result     chan error
}

func (p *pendingReply) finish(err error) {
	select {
	case p.result <- err:
	default:
	}
}

type realtimeReply struct {
	session      *RealtimeSession
	instructions string
}

// GenerateReply prepares a spoken reply. Starting the returned handle asks
// the model to respond with instructions and waits until the response is
// done.
func (s *RealtimeSession) GenerateReply(_ context.Context, instructions string) (llms.ReplyHandle, error) {
	select {
	case <-s.done:
		return nil, session.ErrClosed
	default:
	}
	return &realtimeReply{session: s, instructions: instructions}, nil
}

func (r *realtimeReply) Start(ctx context.Context) (err error) {
	ctx, span := tracer.Start(ctx, "realtime reply", trace.WithAttributes(
		attribute.Int("llm.instructions_length", len(r.instructions)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	s := r.session
	pending := &pendingReply{result: make(chan error, 1)}

	s.mu.Lock()
	if s.pending != nil {
		s.mu.Unlock()
		return ErrReplyInProgress
	}
	s.pending = pending
	s.mu.Unlock()

	if err := s.send(responseCreateEvent{
		Type:     eventResponseCreate,
		Response: responseConfig{Instructions: r.instructions},
	}); err != nil {
		s.clearPending(pending)
		return fmt.Errorf("failed to request response: %w", err)
	}

	select {
	case err := <-pending.result:
		span.SetAttributes(attribute.String("realtime.response_id", pending.responseID))
		return err
	case <-ctx.Done():
		s.clearPending(pending)
		if cancelErr := s.send(struct {
			Type string `json:"type"`
		}{Type: eventResponseCancel}); cancelErr != nil {
			logger.Warn("Failed to cancel realtime response", "error", cancelErr)
		}
		return ctx.Err()
	case <-s.done:
		s.clearPending(pending)
		return fmt.Errorf("%w: %w", llms.ErrModelUnavailable, session.ErrClosed)
	}
}

func (s *RealtimeSession) clearPending(pending *pendingReply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == pending {
		s.pending = nil
	}
}

var _ session.Session = (*RealtimeSession)(nil)
