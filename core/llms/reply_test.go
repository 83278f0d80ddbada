package llms

import (
	"context"
	"errors"
	"testing"
)

func TestReplyGeneratorFuncPassesInstructions(t *testing.T) {
	var received string
	started := false
	generator := ReplyGeneratorFunc(func(_ context.Context, instructions string) (ReplyHandle, error) {
		received = instructions
		return ReplyHandleFunc(func(context.Context) error {
			started = true
			return nil
		}), nil
	})

	handle, err := generator.GenerateReply(context.Background(), "say hi")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if received != "say hi" {
		t.Fatalf("expected instructions %q, got %q", "say hi", received)
	}
	if started {
		t.Fatalf("expected reply not to start before Start is called")
	}

	if err := handle.Start(context.Background()); err != nil {
		t.Fatalf("expected start to succeed, got %v", err)
	}
	if !started {
		t.Fatalf("expected reply to be started")
	}
}

func TestReplyHandleFuncReturnsError(t *testing.T) {
	handle := ReplyHandleFunc(func(context.Context) error {
		return errors.Join(ErrModelUnavailable, errors.New("timeout"))
	})

	if err := handle.Start(context.Background()); !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}
}
