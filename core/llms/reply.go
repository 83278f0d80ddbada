package llms

import (
	"context"
	"errors"
)

// ErrModelUnavailable is wrapped by clients when the language model could not
// produce a reply: the call timed out, was rejected or the connection to the
// model dropped.
var ErrModelUnavailable = errors.New("language model unavailable")

// ReplyGenerator issues reply-generation calls to a language model.
type ReplyGenerator interface {
	// GenerateReply prepares a reply with the given instructions. The reply
	// is only produced once the returned handle is started.
	GenerateReply(ctx context.Context, instructions string) (ReplyHandle, error)
}

// ReplyHandle is a prepared reply.
type ReplyHandle interface {
	// Start produces the reply and blocks until it was delivered or failed.
	Start(ctx context.Context) error
}

type ReplyHandleFunc func(ctx context.Context) error

func (f ReplyHandleFunc) Start(ctx context.Context) error {
	return f(ctx)
}

type ReplyGeneratorFunc func(ctx context.Context, instructions string) (ReplyHandle, error)

func (f ReplyGeneratorFunc) GenerateReply(ctx context.Context, instructions string) (ReplyHandle, error) {
	return f(ctx, instructions)
}

// Prompter is a text-only language model that answers a single prompt.
type Prompter interface {
	Prompt(ctx context.Context, prompt string) (string, error)
}
