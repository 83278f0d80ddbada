package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/phonio/core/events"
	"github.com/koscakluka/phonio/core/llms"
	"github.com/koscakluka/phonio/core/session"
)

type recordedCall struct {
	instructions string
	started      time.Time
	ended        time.Time
}

// recordingGenerator records every reply-generation call and fails if two
// calls ever overlap.
type recordingGenerator struct {
	delay time.Duration
	fail  func(call int) error

	mu         sync.Mutex
	calls      []recordedCall
	inFlight   atomic.Int32
	maxOverlap atomic.Int32
}

func (g *recordingGenerator) GenerateReply(_ context.Context, instructions string) (llms.ReplyHandle, error) {
	return llms.ReplyHandleFunc(func(ctx context.Context) error {
		current := g.inFlight.Add(1)
		defer g.inFlight.Add(-1)
		for {
			observed := g.maxOverlap.Load()
			if current <= observed || g.maxOverlap.CompareAndSwap(observed, current) {
				break
			}
		}

		started := time.Now()
		if g.delay > 0 {
			select {
			case <-time.After(g.delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		g.mu.Lock()
		index := len(g.calls)
		g.calls = append(g.calls, recordedCall{instructions: instructions, started: started, ended: time.Now()})
		g.mu.Unlock()

		if g.fail != nil {
			return g.fail(index)
		}
		return nil
	}), nil
}

func (g *recordingGenerator) recorded() []recordedCall {
	g.mu.Lock()
	defer g.mu.Unlock()

	calls := make([]recordedCall, len(g.calls))
	copy(calls, g.calls)
	return calls
}

func waitForCondition(t *testing.T, timeout time.Duration, description string, condition func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", description)
}

func waitWithTimeout(t *testing.T, o *Orchestrator, timeout time.Duration) {
	t.Helper()

	done := make(chan struct{})
	go func() {
		o.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for scheduled replies")
	}
}

func TestConcurrentUserTurnsAreSerialized(t *testing.T) {
	for _, turns := range []int{1, 2, 8, 32} {
		t.Run(fmt.Sprintf("%d turns", turns), func(t *testing.T) {
			generator := &recordingGenerator{delay: 2 * time.Millisecond}
			o := NewOrchestrator(generator)
			defer o.Close()

			start := make(chan struct{})
			wg := sync.WaitGroup{}
			for i := range turns {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					o.OnUserTurn(fmt.Sprintf("turn %d", i))
				}()
			}
			close(start)
			wg.Wait()

			waitWithTimeout(t, o, 5*time.Second)

			calls := generator.recorded()
			if len(calls) != turns {
				t.Fatalf("expected %d generation calls, got %d", turns, len(calls))
			}
			if overlap := generator.maxOverlap.Load(); overlap > 1 {
				t.Fatalf("expected at most one call in flight, observed %d", overlap)
			}
			for i := 1; i < len(calls); i++ {
				if calls[i].started.Before(calls[i-1].ended) {
					t.Fatalf("call %d started before call %d ended", i, i-1)
				}
			}
		})
	}
}

func TestOnUserTurnDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	generator := llms.ReplyGeneratorFunc(func(context.Context, string) (llms.ReplyHandle, error) {
		return llms.ReplyHandleFunc(func(context.Context) error {
			<-release
			return nil
		}), nil
	})
	o := NewOrchestrator(generator)

	returned := make(chan struct{})
	go func() {
		o.OnUserTurn("first")
		o.OnUserTurn("second")
		o.OnUserTurn("third")
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatalf("expected OnUserTurn to return while a reply is being generated")
	}

	waitForCondition(t, time.Second, "reply to execute", func() bool {
		return o.State() == ReplyStateExecuting
	})

	close(release)
	waitWithTimeout(t, o, 2*time.Second)
	o.Close()

	if stats := o.Stats(); stats.Scheduled != 3 || stats.Completed != 3 {
		t.Fatalf("expected 3 scheduled and completed replies, got %+v", stats)
	}
}

func TestTurnsArrivingApartAreRepliedInOrder(t *testing.T) {
	generator := &recordingGenerator{delay: 20 * time.Millisecond}
	o := NewOrchestrator(generator)
	defer o.Close()

	o.HandleEvent(events.NewConversationTurn(events.RoleUser, "hello", false))
	time.Sleep(10 * time.Millisecond)
	o.HandleEvent(events.NewConversationTurn(events.RoleUser, "how are you", false))

	waitWithTimeout(t, o, 2*time.Second)

	calls := generator.recorded()
	if len(calls) != 2 {
		t.Fatalf("expected 2 generation calls, got %d", len(calls))
	}
	if !strings.Contains(calls[0].instructions, "hello") {
		t.Fatalf("expected first instructions to mention %q, got %q", "hello", calls[0].instructions)
	}
	if !strings.Contains(calls[1].instructions, "how are you") {
		t.Fatalf("expected second instructions to mention %q, got %q", "how are you", calls[1].instructions)
	}
	if calls[1].started.Before(calls[0].ended) {
		t.Fatalf("expected second call to start after the first ended")
	}
}

func TestGreetingPrecedesUserTurns(t *testing.T) {
	generator := &recordingGenerator{delay: time.Millisecond}
	o := NewOrchestrator(generator)
	defer o.Close()

	o.OnSessionReady()
	o.OnUserTurn("hello")
	o.OnSessionReady()

	waitWithTimeout(t, o, 2*time.Second)

	calls := generator.recorded()
	if len(calls) != 2 {
		t.Fatalf("expected greeting and one reply, got %d calls", len(calls))
	}
	if calls[0].instructions != defaultGreetingInstructions {
		t.Fatalf("expected greeting first, got %q", calls[0].instructions)
	}
	if !strings.Contains(calls[1].instructions, "hello") {
		t.Fatalf("expected user reply second, got %q", calls[1].instructions)
	}
}

func TestFailedCallReleasesGate(t *testing.T) {
	generator := &recordingGenerator{fail: func(call int) error {
		if call == 0 {
			return fmt.Errorf("simulated: %w", llms.ErrModelUnavailable)
		}
		return nil
	}}
	o := NewOrchestrator(generator)
	defer o.Close()

	o.OnUserTurn("first")
	waitWithTimeout(t, o, 2*time.Second)

	o.OnUserTurn("second")
	waitWithTimeout(t, o, 2*time.Second)

	if calls := generator.recorded(); len(calls) != 2 {
		t.Fatalf("expected 2 generation calls, got %d", len(calls))
	}
	if stats := o.Stats(); stats.Failed != 1 || stats.Completed != 1 {
		t.Fatalf("expected one failed and one completed reply, got %+v", stats)
	}
}

func TestFailedGreetingIsNotRetried(t *testing.T) {
	generator := &recordingGenerator{fail: func(call int) error {
		if call == 0 {
			return errors.New("simulated greeting failure")
		}
		return nil
	}}
	o := NewOrchestrator(generator)
	defer o.Close()

	o.OnSessionReady()
	waitWithTimeout(t, o, 2*time.Second)
	o.OnSessionReady()
	waitWithTimeout(t, o, 2*time.Second)

	if calls := generator.recorded(); len(calls) != 1 {
		t.Fatalf("expected the greeting to be attempted once, got %d calls", len(calls))
	}

	o.OnUserTurn("are you there")
	waitWithTimeout(t, o, 2*time.Second)

	calls := generator.recorded()
	if len(calls) != 2 || !strings.Contains(calls[1].instructions, "are you there") {
		t.Fatalf("expected user turn to be replied after failed greeting, got %+v", calls)
	}
}

func TestPanickingGeneratorIsIsolated(t *testing.T) {
	calls := atomic.Int32{}
	generator := llms.ReplyGeneratorFunc(func(context.Context, string) (llms.ReplyHandle, error) {
		if calls.Add(1) == 1 {
			panic("model client bug")
		}
		return llms.ReplyHandleFunc(func(context.Context) error { return nil }), nil
	})
	o := NewOrchestrator(generator)
	defer o.Close()

	o.OnUserTurn("first")
	o.OnUserTurn("second")
	waitWithTimeout(t, o, 2*time.Second)

	if stats := o.Stats(); stats.Failed != 1 || stats.Completed != 1 {
		t.Fatalf("expected panic to count as one failure, got %+v", stats)
	}
}

func TestGenerateReplySwallowsModelErrors(t *testing.T) {
	generator := llms.ReplyGeneratorFunc(func(context.Context, string) (llms.ReplyHandle, error) {
		return nil, llms.ErrModelUnavailable
	})
	o := NewOrchestrator(generator)
	defer o.Close()

	if err := o.GenerateReply(context.Background(), "say hi", "manual"); err != nil {
		t.Fatalf("expected model failure not to propagate, got %v", err)
	}
	if stats := o.Stats(); stats.Failed != 1 {
		t.Fatalf("expected one failed reply, got %+v", stats)
	}
}

func TestGenerateReplyReturnsWhenContextEndsInQueue(t *testing.T) {
	release := make(chan struct{})
	generator := llms.ReplyGeneratorFunc(func(context.Context, string) (llms.ReplyHandle, error) {
		return llms.ReplyHandleFunc(func(context.Context) error {
			<-release
			return nil
		}), nil
	})
	o := NewOrchestrator(generator)
	defer o.Close()

	o.OnUserTurn("holding the gate")
	waitForCondition(t, time.Second, "first reply to execute", func() bool {
		return o.State() == ReplyStateExecuting
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := o.GenerateReply(ctx, "never spoken", "manual")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded while queued, got %v", err)
	}

	close(release)
	waitWithTimeout(t, o, 2*time.Second)

	waitForCondition(t, time.Second, "abandoned reply to be skipped", func() bool {
		return o.Stats().Abandoned == 1
	})
	if stats := o.Stats(); stats.Completed != 1 {
		t.Fatalf("expected only the first reply to complete, got %+v", stats)
	}
}

func TestReplyStatesFollowLifecycle(t *testing.T) {
	mu := sync.Mutex{}
	states := map[string][]ReplyState{}
	o := NewOrchestrator(&recordingGenerator{},
		WithReplyStateCallback(func(request ReplyRequest, state ReplyState) {
			mu.Lock()
			defer mu.Unlock()
			states[request.ID] = append(states[request.ID], state)
		}),
	)
	defer o.Close()

	o.OnUserTurn("one")
	o.OnUserTurn("two")
	waitWithTimeout(t, o, 2*time.Second)

	mu.Lock()
	defer mu.Unlock()
	if len(states) != 2 {
		t.Fatalf("expected states for 2 requests, got %d", len(states))
	}
	for id, observed := range states {
		expected := []ReplyState{ReplyStateQueued, ReplyStateExecuting, ReplyStateIdle}
		if len(observed) != len(expected) {
			t.Fatalf("request %s: expected states %v, got %v", id, expected, observed)
		}
		for i := range expected {
			if observed[i] != expected[i] {
				t.Fatalf("request %s: expected states %v, got %v", id, expected, observed)
			}
		}
	}
}

func TestInterimTranscriptionsNeverTriggerReplies(t *testing.T) {
	generator := &recordingGenerator{}
	interim := []string{}
	final := []string{}
	o := NewOrchestrator(generator,
		WithInterimTranscriptionCallback(func(transcript string) { interim = append(interim, transcript) }),
		WithTranscriptionCallback(func(transcript string) { final = append(final, transcript) }),
	)
	defer o.Close()

	o.HandleEvent(events.NewInterimTranscription("hel"))
	o.HandleEvent(events.NewInterimTranscription("hello th"))
	o.HandleEvent(events.NewFinalTranscription("hello there"))
	o.HandleEvent(events.NewFinalTranscription("   "))
	waitWithTimeout(t, o, time.Second)

	if calls := generator.recorded(); len(calls) != 0 {
		t.Fatalf("expected transcriptions not to trigger replies, got %d calls", len(calls))
	}
	if len(interim) != 2 {
		t.Fatalf("expected 2 interim callbacks, got %v", interim)
	}
	if len(final) != 1 || final[0] != "hello there" {
		t.Fatalf("expected only the non-empty final transcription, got %v", final)
	}
}

func TestConversationTurnsAreRecorded(t *testing.T) {
	generator := &recordingGenerator{}
	o := NewOrchestrator(generator)
	defer o.Close()

	user := events.NewConversationTurn(events.RoleUser, "what time is it", false)
	assistant := events.NewConversationTurn(events.RoleAssistant, "It is noon.", false)
	o.HandleEvent(user)
	o.HandleEvent(assistant)
	o.HandleEvent(events.NewConversationTurn(events.RoleUser, "  ", false))
	o.HandleEvent(events.NewConversationTurn(events.Role("system"), "ignored", false))

	interrupted := assistant
	interrupted.Interrupted = true
	o.HandleEvent(interrupted)

	waitWithTimeout(t, o, 2*time.Second)

	if calls := generator.recorded(); len(calls) != 1 {
		t.Fatalf("expected only the user turn with text to trigger a reply, got %d calls", len(calls))
	}

	turns := o.Conversation()
	if len(turns) != 3 {
		t.Fatalf("expected 3 recorded turns, got %d", len(turns))
	}
	if turns[0].Role != events.RoleUser || turns[0].Text != "what time is it" {
		t.Fatalf("unexpected first turn %+v", turns[0])
	}
	if turns[1].Role != events.RoleAssistant || !turns[1].Interrupted {
		t.Fatalf("expected assistant turn to be marked interrupted, got %+v", turns[1])
	}

	turns[0].Text = "mutated"
	if o.Conversation()[0].Text != "what time is it" {
		t.Fatalf("expected conversation snapshot to be a copy")
	}
}

func TestRepeatedUserTurnIsRepliedOnce(t *testing.T) {
	generator := &recordingGenerator{}
	o := NewOrchestrator(generator)
	defer o.Close()

	turn := events.NewConversationTurn(events.RoleUser, "hello", false)
	o.HandleEvent(turn)
	o.HandleEvent(turn)
	waitWithTimeout(t, o, 2*time.Second)

	if calls := generator.recorded(); len(calls) != 1 {
		t.Fatalf("expected one reply for a repeated turn, got %d", len(calls))
	}
}

func TestUserTurnsWithoutIDAreEachReplied(t *testing.T) {
	generator := &recordingGenerator{}
	o := NewOrchestrator(generator, WithoutGreeting())
	defer o.Close()

	o.HandleEvent(events.ConversationTurn{Role: events.RoleUser, Text: "hello"})
	o.HandleEvent(events.ConversationTurn{Role: events.RoleUser, Text: "how are you"})
	waitWithTimeout(t, o, 2*time.Second)

	if calls := generator.recorded(); len(calls) != 2 {
		t.Fatalf("expected 2 generation calls, got %d", len(calls))
	}
	turns := o.Conversation()
	if len(turns) != 2 {
		t.Fatalf("expected 2 recorded turns, got %d", len(turns))
	}
	if turns[0].ID == "" || turns[0].ID == turns[1].ID {
		t.Fatalf("expected distinct assigned ids, got %q and %q", turns[0].ID, turns[1].ID)
	}
}

func TestCustomInstructions(t *testing.T) {
	generator := &recordingGenerator{}
	o := NewOrchestrator(generator,
		WithGreetingInstructions("Say welcome."),
		WithUserTurnInstructions(func(text string) string { return "Echo: " + text }),
	)
	defer o.Close()

	o.OnSessionReady()
	o.OnUserTurn("  ping  ")
	waitWithTimeout(t, o, 2*time.Second)

	calls := generator.recorded()
	if len(calls) != 2 || calls[0].instructions != "Say welcome." || calls[1].instructions != "Echo: ping" {
		t.Fatalf("unexpected instructions %+v", calls)
	}
}

func TestWithoutGreeting(t *testing.T) {
	generator := &recordingGenerator{}
	o := NewOrchestrator(generator, WithoutGreeting())
	defer o.Close()

	o.OnSessionReady()
	waitWithTimeout(t, o, time.Second)

	if calls := generator.recorded(); len(calls) != 0 {
		t.Fatalf("expected no greeting, got %d calls", len(calls))
	}
}

func TestClosedOrchestratorDropsTurns(t *testing.T) {
	generator := &recordingGenerator{}
	o := NewOrchestrator(generator)
	o.Close()
	o.Close()

	o.OnUserTurn("too late")
	if err := o.GenerateReply(context.Background(), "too late", "manual"); !errors.Is(err, ErrOrchestratorClosed) {
		t.Fatalf("expected ErrOrchestratorClosed, got %v", err)
	}
	if calls := generator.recorded(); len(calls) != 0 {
		t.Fatalf("expected no calls after close, got %d", len(calls))
	}
}

func TestMissingGeneratorIsReportedAsFailure(t *testing.T) {
	o := NewOrchestrator(nil)
	defer o.Close()

	o.OnUserTurn("hello")
	waitWithTimeout(t, o, time.Second)

	if stats := o.Stats(); stats.Failed != 1 {
		t.Fatalf("expected a failed reply without generator, got %+v", stats)
	}
}

type sessionStub struct {
	*recordingGenerator

	startErr error
	// onStart is delivered to the handler before Start returns.
	onStart  []events.Event
	started  chan session.EventHandler
	done     chan struct{}
	closed   atomic.Bool
}

func newSessionStub(startErr error) *sessionStub {
	return &sessionStub{
		recordingGenerator: &recordingGenerator{},
		startErr:           startErr,
		started:            make(chan session.EventHandler, 1),
		done:               make(chan struct{}),
	}
}

func (s *sessionStub) Start(_ context.Context, handler session.EventHandler) error {
	if s.startErr != nil {
		return s.startErr
	}
	for _, event := range s.onStart {
		handler(event)
	}
	s.started <- handler
	return nil
}

func (s *sessionStub) Done() <-chan struct{} { return s.done }

func (s *sessionStub) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		close(s.done)
	}
	return nil
}

func TestRunGreetsAfterSessionStart(t *testing.T) {
	stub := newSessionStub(nil)
	o := NewOrchestrator(stub)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(ctx, stub) }()

	var handler session.EventHandler
	select {
	case handler = <-stub.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session start")
	}

	handler(events.NewConversationTurn(events.RoleUser, "hello", false))
	waitForCondition(t, 2*time.Second, "greeting and reply", func() bool {
		return len(stub.recorded()) == 2
	})

	calls := stub.recorded()
	if calls[0].instructions != defaultGreetingInstructions {
		t.Fatalf("expected greeting first, got %q", calls[0].instructions)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Run to return")
	}
	if !stub.closed.Load() {
		t.Fatalf("expected session to be closed")
	}
}

func TestRunGreetsBeforeTurnsCommittedDuringStart(t *testing.T) {
	stub := newSessionStub(nil)
	stub.onStart = []events.Event{
		events.NewSessionStarted("sess_1"),
		events.NewConversationTurn(events.RoleUser, "are you there", false),
	}
	o := NewOrchestrator(stub)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.Run(ctx, stub) }()

	waitForCondition(t, 2*time.Second, "greeting and reply", func() bool {
		return len(stub.recorded()) == 2
	})

	calls := stub.recorded()
	if calls[0].instructions != defaultGreetingInstructions {
		t.Fatalf("expected greeting first, got %q", calls[0].instructions)
	}
	if !strings.Contains(calls[1].instructions, "are you there") {
		t.Fatalf("expected user reply second, got %q", calls[1].instructions)
	}
	if stats := o.Stats(); stats.Scheduled != 2 {
		t.Fatalf("expected a single greeting, got %+v", stats)
	}
}

func TestRunReportsSessionStartFailure(t *testing.T) {
	stub := newSessionStub(errors.New("room unreachable"))
	o := NewOrchestrator(stub)
	defer o.Close()

	err := o.Run(context.Background(), stub)

	var startErr *SessionStartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected SessionStartError, got %v", err)
	}
	if !strings.Contains(err.Error(), "room unreachable") {
		t.Fatalf("expected cause in error, got %v", err)
	}

	waitWithTimeout(t, o, time.Second)
	if calls := stub.recorded(); len(calls) != 0 {
		t.Fatalf("expected no greeting after failed start, got %d calls", len(calls))
	}
}

func TestRunReturnsWhenSessionEnds(t *testing.T) {
	stub := newSessionStub(nil)
	o := NewOrchestrator(stub, WithoutGreeting())
	defer o.Close()

	runErr := make(chan error, 1)
	go func() { runErr <- o.Run(context.Background(), stub) }()

	select {
	case <-stub.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for session start")
	}
	stub.Close()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("expected nil error, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for Run to return")
	}
}
