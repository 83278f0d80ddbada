package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/phonio/core/events"
	"github.com/koscakluka/phonio/core/llms"
	"github.com/koscakluka/phonio/core/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Orchestrator turns committed user turns, and a one-time greeting, into
// reply-generation calls to a language model.
//
// Calls are serialized: at most one reply is generated at any instant, no
// matter how many turns arrive concurrently. Scheduling never blocks the
// event source, turns merely wait for their reply to be spoken. A failed
// call is logged and the orchestrator stays usable for the next turn.
type Orchestrator struct {
	generator llms.ReplyGenerator
	gate      *replyGate

	conversation conversation
	callbacks    orchestratorCallbacks
	logger       *slog.Logger
	metrics      replyMetrics

	greetingInstructions string
	greetingDisabled     bool
	userTurnInstructions func(text string) string

	greeted     atomic.Bool
	closed      atomic.Bool
	lifecycleMu sync.RWMutex
	pending     sync.WaitGroup

	scheduled atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	abandoned atomic.Int64

	contextMu   sync.RWMutex
	baseContext context.Context
}

func NewOrchestrator(generator llms.ReplyGenerator, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		generator:            generator,
		gate:                 newReplyGate(),
		logger:               logger,
		metrics:              newReplyMetrics(),
		greetingInstructions: defaultGreetingInstructions,
		userTurnInstructions: defaultUserTurnInstructions,
		baseContext:          context.Background(),
	}
	for _, opt := range opts {
		opt(o)
	}

	return o
}

// OnUserTurn schedules a reply to a committed user turn and returns
// immediately. Turns without any text are ignored.
func (o *Orchestrator) OnUserTurn(text string) {
	if events.IsNoise(text) {
		o.logger.Debug("Ignoring user turn without text")
		return
	}

	o.schedule(newReplyRequest(o.userTurnInstructions(strings.TrimSpace(text)), descriptionUserTurn))
}

// OnSessionReady schedules the greeting. Only the first call has an effect,
// a greeting that fails is not retried.
func (o *Orchestrator) OnSessionReady() {
	if o.greetingDisabled {
		return
	}
	if !o.greeted.CompareAndSwap(false, true) {
		o.logger.Debug("Greeting already scheduled, skipping")
		return
	}

	o.schedule(newReplyRequest(o.greetingInstructions, descriptionGreeting))
}

func (o *Orchestrator) schedule(request ReplyRequest) {
	o.lifecycleMu.RLock()
	defer o.lifecycleMu.RUnlock()

	if o.closed.Load() {
		o.logger.Warn("Orchestrator closed, dropping reply request",
			"description", request.Description)
		return
	}

	ctx := o.context()
	job, ok := o.enqueue(ctx, request)
	if !ok {
		o.logger.Warn("Reply gate closed, dropping reply request",
			"description", request.Description)
		return
	}

	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		<-job.done
	}()
}

func (o *Orchestrator) enqueue(ctx context.Context, request ReplyRequest) (*gateJob, bool) {
	o.scheduled.Add(1)
	o.metrics.recordScheduled(ctx, request.Description)

	job := newGateJob(ctx,
		func(ctx context.Context) { o.execute(ctx, request) },
		func() { o.abandon(ctx, request) },
	)

	o.notifyState(request, ReplyStateQueued)
	if !o.gate.enqueue(job) {
		o.abandon(ctx, request)
		return nil, false
	}
	return job, true
}

func (o *Orchestrator) abandon(ctx context.Context, request ReplyRequest) {
	o.abandoned.Add(1)
	o.metrics.recordFinished(ctx, request.Description, outcomeAbandoned, 0)
	o.notifyState(request, ReplyStateIdle)
}

// GenerateReply waits for the reply gate, asks the language model for a
// reply and waits until it was delivered.
//
// Failures of the language model are logged under description and are not
// returned. An error is only returned when ctx ends before the gate was
// acquired, or when the orchestrator is closed.
func (o *Orchestrator) GenerateReply(ctx context.Context, instructions, description string) error {
	if o.closed.Load() {
		return ErrOrchestratorClosed
	}

	job, ok := o.enqueue(ctx, newReplyRequest(instructions, description))
	if !ok {
		return ErrOrchestratorClosed
	}

	select {
	case <-job.done:
		return nil
	case <-ctx.Done():
		if job.abandon() {
			return fmt.Errorf("waiting for reply gate: %w", ctx.Err())
		}
		<-job.done
		return nil
	}
}

// execute runs while holding the reply gate.
func (o *Orchestrator) execute(ctx context.Context, request ReplyRequest) {
	started := time.Now()
	o.metrics.recordGateWait(ctx, started.Sub(request.CreatedAt))
	o.notifyState(request, ReplyStateExecuting)
	defer o.notifyState(request, ReplyStateIdle)

	ctx, span := tracer.Start(ctx, "generate reply", trace.WithAttributes(
		attribute.String("reply.id", request.ID),
		attribute.String("reply.description", request.Description),
	))
	defer span.End()

	if err := o.generate(ctx, request); err != nil {
		o.failed.Add(1)
		o.metrics.recordFinished(ctx, request.Description, outcomeFailed, time.Since(started))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.logger.ErrorContext(ctx, "Failed to generate reply",
			"description", request.Description,
			"reply_id", request.ID,
			"error", err)
		return
	}

	o.completed.Add(1)
	o.metrics.recordFinished(ctx, request.Description, outcomeCompleted, time.Since(started))
}

func (o *Orchestrator) generate(ctx context.Context, request ReplyRequest) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("reply generation panicked: %v", recovered)
		}
	}()

	if o.generator == nil {
		return ErrGeneratorNotConfigured
	}

	handle, err := o.generator.GenerateReply(ctx, request.Instructions)
	if err != nil {
		return fmt.Errorf("failed to create reply: %w", err)
	}
	if handle == nil {
		return fmt.Errorf("failed to create reply: %w", llms.ErrModelUnavailable)
	}

	if err := handle.Start(ctx); err != nil {
		return fmt.Errorf("failed to deliver reply: %w", err)
	}
	return nil
}

// HandleEvent reacts to an event reported by the session. It never blocks on
// reply generation and is safe to use as a session.EventHandler.
func (o *Orchestrator) HandleEvent(event events.Event) {
	if o.callbacks.onEvent != nil {
		o.callbacks.onEvent(event)
	}

	switch e := event.(type) {
	case events.TranscriptionUpdate:
		if !e.IsFinal {
			if o.callbacks.onInterimTranscription != nil {
				o.callbacks.onInterimTranscription(e.Text)
			}
			return
		}
		if events.IsNoise(e.Text) {
			return
		}
		o.logger.Info("[STT] " + e.Text)
		if o.callbacks.onTranscription != nil {
			o.callbacks.onTranscription(e.Text)
		}

	case events.ConversationTurn:
		if !e.Role.Valid() {
			o.logger.Warn("Ignoring turn with unknown role", "role", string(e.Role))
			return
		}

		isNew := o.conversation.record(e)
		o.logger.Info(fmt.Sprintf("[%s] %s", strings.ToUpper(string(e.Role)), e.Text),
			"interrupted", e.Interrupted)
		if o.callbacks.onTurn != nil {
			o.callbacks.onTurn(e)
		}

		if isNew && e.Role == events.RoleUser {
			o.OnUserTurn(e.Text)
		}

	case events.SessionStarted:
		// Sessions may commit turns before Start returns, the greeting has
		// to be queued ahead of them.
		o.OnSessionReady()

	case events.SessionFailed:
		o.logger.Error("Session reported a failure", "error", e.Err)

	case events.SessionClosed:
		o.logger.Info("Session closed")
	}
}

// Run starts s and keeps the orchestrator attached to it until ctx is done
// or the session ends.
//
// A session that fails to start is terminal: Run returns a
// *SessionStartError and no greeting is attempted.
func (o *Orchestrator) Run(ctx context.Context, s session.Session) error {
	if s == nil {
		return &SessionStartError{Err: errors.New("no session configured")}
	}
	if o.closed.Load() {
		return ErrOrchestratorClosed
	}

	o.setContext(ctx)

	ctx, span := tracer.Start(ctx, "start session")
	if err := s.Start(ctx, o.HandleEvent); err != nil {
		startErr := &SessionStartError{Err: err}
		span.RecordError(startErr)
		span.SetStatus(codes.Error, startErr.Error())
		span.End()
		o.logger.ErrorContext(ctx, "Session failed to start", "error", err)
		return startErr
	}
	span.End()

	o.OnSessionReady()

	select {
	case <-ctx.Done():
	case <-s.Done():
	}

	if err := s.Close(); err != nil && !errors.Is(err, session.ErrClosed) {
		o.logger.Warn("Failed to close session", "error", err)
	}
	return nil
}

// Wait blocks until every scheduled reply left the gate.
func (o *Orchestrator) Wait() {
	o.pending.Wait()
}

// Close stops accepting new replies and waits for the queued ones to leave
// the gate.
func (o *Orchestrator) Close() {
	o.lifecycleMu.Lock()
	alreadyClosed := !o.closed.CompareAndSwap(false, true)
	o.lifecycleMu.Unlock()
	if alreadyClosed {
		return
	}

	o.gate.close()
	o.pending.Wait()
}

// Conversation returns a copy of the committed turns, oldest first.
func (o *Orchestrator) Conversation() []Turn {
	return o.conversation.snapshot()
}

// Stats returns counts of reply requests since creation.
func (o *Orchestrator) Stats() ReplyStats {
	return ReplyStats{
		Scheduled: o.scheduled.Load(),
		Completed: o.completed.Load(),
		Failed:    o.failed.Load(),
		Abandoned: o.abandoned.Load(),
	}
}

// State reports whether a reply is being generated or waiting for the gate.
func (o *Orchestrator) State() ReplyState {
	switch {
	case o.gate.busy():
		return ReplyStateExecuting
	case o.gate.queued() > 0:
		return ReplyStateQueued
	default:
		return ReplyStateIdle
	}
}

func (o *Orchestrator) notifyState(request ReplyRequest, state ReplyState) {
	if o.callbacks.onReplyState != nil {
		o.callbacks.onReplyState(request, state)
	}
}

func (o *Orchestrator) setContext(ctx context.Context) {
	o.contextMu.Lock()
	defer o.contextMu.Unlock()
	o.baseContext = ctx
}

func (o *Orchestrator) context() context.Context {
	o.contextMu.RLock()
	defer o.contextMu.RUnlock()
	return o.baseContext
}
