package main

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"
)

// decideFunc adapts a function to the Decider interface.
type decideFunc func(ctx context.Context, history []Message, clue Clue, model string) (*Decision, error)

func (f decideFunc) RequestDecision(ctx context.Context, history []Message, clue Clue, model string) (*Decision, error) {
	return f(ctx, history, clue, model)
}

func answer(d *Decision) decideFunc {
	return func(context.Context, []Message, Clue, string) (*Decision, error) {
		return d, nil
	}
}

func fail(err error) decideFunc {
	return func(context.Context, []Message, Clue, string) (*Decision, error) {
		return nil, err
	}
}

// blockingDecider holds every call until release is closed.
type blockingDecider struct {
	started chan struct{}
	release chan struct{}
	answer  *Decision
}

func newBlockingDecider(d *Decision) *blockingDecider {
	return &blockingDecider{
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
		answer:  d,
	}
}

func (b *blockingDecider) RequestDecision(ctx context.Context, _ []Message, _ Clue, _ string) (*Decision, error) {
	b.started <- struct{}{}
	<-b.release
	return b.answer, nil
}

func waitStarted(t *testing.T, b *blockingDecider) {
	t.Helper()
	select {
	case <-b.started:
	case <-time.After(time.Second):
		t.Fatal("decider was not called")
	}
}

func newStartedGame(d Decider) *Game {
	g := NewGame("g1", d, "", nil)
	g.Start()
	return g
}

func TestNewGameIsIdle(t *testing.T) {
	g := NewGame("g1", answer(&Decision{}), "", nil)
	if g.Status() != StatusIdle {
		t.Fatalf("expected idle, got %s", g.Status())
	}
	if _, err := g.SubmitClue(context.Background(), TextClue("x"), ""); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("expected ErrNotPlaying, got %v", err)
	}
}

func TestStartResetsGame(t *testing.T) {
	g := newStartedGame(answer(&Decision{Question: "q", Guess: "cat", IsCorrectGuess: true, ReasoningConfidence: 0.9}))
	if _, err := g.SubmitClue(context.Background(), TextClue("meow"), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Status() != StatusWon {
		t.Fatalf("expected won, got %s", g.Status())
	}

	snap := g.Start()
	if snap.Status != StatusPlaying || snap.Rounds != 0 || snap.Confidence != 0 || snap.LastGuess != "" {
		t.Fatalf("unexpected state after restart: %+v", snap)
	}
	if len(snap.History) != 1 || snap.History[0].Role != RoleAssistant || snap.History[0].Content != greeting {
		t.Fatalf("expected only the greeting, got %+v", snap.History)
	}
	if snap.Reasoning != initialReasoning {
		t.Fatalf("unexpected reasoning %q", snap.Reasoning)
	}
}

func TestRoundsMatchAcceptedClues(t *testing.T) {
	g := newStartedGame(answer(&Decision{Question: "Bigger than a breadbox?"}))

	for i := 1; i <= 5; i++ {
		if _, err := g.SubmitClue(context.Background(), TextClue("clue"), ""); err != nil {
			t.Fatalf("clue %d: %v", i, err)
		}
		snap := g.Snapshot()
		if snap.Rounds != i {
			t.Fatalf("expected %d rounds, got %d", i, snap.Rounds)
		}
		users := 0
		for _, turn := range snap.History {
			if turn.Role == RoleUser {
				users++
			}
		}
		if users != snap.Rounds {
			t.Fatalf("rounds %d != user turns %d", snap.Rounds, users)
		}
	}
}

func TestProjectionTakenBeforeUserTurn(t *testing.T) {
	var calls [][]Message
	var clues []Clue
	g := newStartedGame(decideFunc(func(_ context.Context, h []Message, c Clue, _ string) (*Decision, error) {
		calls = append(calls, h)
		clues = append(clues, c)
		return &Decision{Question: "Is it alive?"}, nil
	}))

	g.SubmitClue(context.Background(), Clue{Image: []byte{1, 2}}, "")
	g.SubmitClue(context.Background(), TextClue("it purrs"), "")

	if want := []Message{{Role: "model", Text: greeting}}; !reflect.DeepEqual(calls[0], want) {
		t.Fatalf("first call history = %+v, want %+v", calls[0], want)
	}
	want := []Message{
		{Role: "model", Text: greeting},
		{Role: "user", Text: visualClueText},
		{Role: "model", Text: "Is it alive?"},
	}
	if !reflect.DeepEqual(calls[1], want) {
		t.Fatalf("second call history = %+v, want %+v", calls[1], want)
	}

	// Media goes out once, with its own clue.
	if len(clues[0].Image) != 2 || len(clues[1].Image) != 0 || clues[1].Text != "it purrs" {
		t.Fatalf("unexpected clues sent: %+v", clues)
	}
}

func TestUserTurnDisplayText(t *testing.T) {
	g := newStartedGame(answer(&Decision{Question: "q"}))
	g.SubmitClue(context.Background(), Clue{Image: []byte{1}}, "")
	g.SubmitClue(context.Background(), Clue{Audio: []byte{1}}, "")
	g.SubmitClue(context.Background(), TextClue("red"), "")

	h := g.Snapshot().History
	tests := []struct {
		idx     int
		content string
		typ     Modality
	}{
		{1, visualClueText, ModalityVideo},
		{3, voiceClueText, ModalityVoice},
		{5, "red", ModalityText},
	}
	for _, tt := range tests {
		if h[tt.idx].Content != tt.content || h[tt.idx].Type != tt.typ {
			t.Errorf("turn %d = %q/%s, want %q/%s", tt.idx, h[tt.idx].Content, h[tt.idx].Type, tt.content, tt.typ)
		}
	}
	if len(h[1].ImageData) != 1 || len(h[3].AudioData) != 1 {
		t.Fatal("user turns should keep their media for replay")
	}
}

func TestGuessRendering(t *testing.T) {
	tests := []struct {
		guess   string
		content string
		isGuess bool
	}{
		{"", "Does it fly?", false},
		{"null", "Does it fly?", false},
		{"penguin", "Is it a... penguin?", true},
	}

	for _, tt := range tests {
		g := newStartedGame(answer(&Decision{Question: "Does it fly?", Guess: tt.guess}))
		turn, err := g.SubmitClue(context.Background(), TextClue("bird"), "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if turn.Content != tt.content || turn.IsGuess != tt.isGuess {
			t.Errorf("guess %q: got %q (isGuess=%v), want %q (isGuess=%v)", tt.guess, turn.Content, turn.IsGuess, tt.content, tt.isGuess)
		}
		if g.Status() != StatusPlaying {
			t.Errorf("guess %q: expected playing, got %s", tt.guess, g.Status())
		}
	}
}

func TestCorrectGuessWins(t *testing.T) {
	g := newStartedGame(answer(&Decision{Question: "q", Guess: "Eiffel Tower", IsCorrectGuess: true}))
	g.SubmitClue(context.Background(), TextClue(confirmGuess), "")

	snap := g.Snapshot()
	if snap.Status != StatusWon || snap.LastGuess != "Eiffel Tower" {
		t.Fatalf("expected won with guess, got %s / %q", snap.Status, snap.LastGuess)
	}
	if _, err := g.SubmitClue(context.Background(), TextClue("again"), ""); !errors.Is(err, ErrNotPlaying) {
		t.Fatalf("terminal game should reject clues, got %v", err)
	}
}

func TestGiveUpLoses(t *testing.T) {
	g := newStartedGame(answer(&Decision{Question: "I have no idea.", GiveUp: true}))
	g.SubmitClue(context.Background(), TextClue("quark"), "")

	if g.Status() != StatusLost {
		t.Fatalf("expected lost, got %s", g.Status())
	}
}

func TestCorrectGuessBeatsGiveUp(t *testing.T) {
	g := newStartedGame(answer(&Decision{Guess: "quark", IsCorrectGuess: true, GiveUp: true}))
	g.SubmitClue(context.Background(), TextClue(confirmGuess), "")

	if g.Status() != StatusWon {
		t.Fatalf("expected won, got %s", g.Status())
	}
}

func TestLastGuessIsSticky(t *testing.T) {
	decisions := []*Decision{
		{Question: "q1", Guess: "dog"},
		{Question: "q2"},
		{Question: "q3", Guess: "null"},
	}
	i := 0
	g := newStartedGame(decideFunc(func(context.Context, []Message, Clue, string) (*Decision, error) {
		d := decisions[i]
		i++
		return d, nil
	}))

	for range decisions {
		g.SubmitClue(context.Background(), TextClue("clue"), "")
		if got := g.Snapshot().LastGuess; got != "dog" {
			t.Fatalf("expected sticky guess dog, got %q", got)
		}
	}
}

func TestReasoningAndConfidence(t *testing.T) {
	g := newStartedGame(answer(&Decision{Question: "q", ReasoningSummary: "sum", ThoughtProcess: "trace", ReasoningConfidence: 0.42}))
	turn, _ := g.SubmitClue(context.Background(), TextClue("clue"), "")

	if turn.Reasoning != "trace" || turn.Summary != "sum" {
		t.Fatalf("assistant turn should carry reasoning, got %+v", turn)
	}
	v := g.Reasoning()
	if v.Reasoning != "trace" || v.Confidence != 0.42 || v.Percent() != 42 {
		t.Fatalf("unexpected reasoning view %+v", v)
	}
}

func TestConfidenceClamped(t *testing.T) {
	for raw, want := range map[float64]float64{1.4: 1, -0.2: 0, 0.5: 0.5} {
		g := newStartedGame(answer(&Decision{Question: "q", ReasoningConfidence: raw}))
		g.SubmitClue(context.Background(), TextClue("clue"), "")
		if got := g.Reasoning().Confidence; got != want {
			t.Errorf("confidence %v displayed as %v, want %v", raw, got, want)
		}
		if got := g.Snapshot().Confidence; got != want {
			t.Errorf("snapshot confidence %v displayed as %v, want %v", raw, got, want)
		}
	}
}

func TestBackendFailureAppendsErrorTurn(t *testing.T) {
	g := newStartedGame(fail(&RateLimitedError{RetryHint: "Please wait 5s and try again."}))

	turn, err := g.SubmitClue(context.Background(), TextClue("clue"), "")
	var limited *RateLimitedError
	if !errors.As(err, &limited) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if !turn.IsError || !turn.IsRateLimited || turn.Role != RoleAssistant {
		t.Fatalf("expected a rate-limited error turn, got %+v", turn)
	}

	snap := g.Snapshot()
	if snap.Status != StatusPlaying || snap.Rounds != 1 || len(snap.History) != 3 || snap.Thinking {
		t.Fatalf("unexpected state after failure: %+v", snap)
	}
}

func TestMalformedResponseKeepsState(t *testing.T) {
	calls := 0
	g := newStartedGame(decideFunc(func(context.Context, []Message, Clue, string) (*Decision, error) {
		calls++
		if calls == 1 {
			return &Decision{Question: "q", Guess: "cat", ReasoningSummary: "first", ThoughtProcess: "first", ReasoningConfidence: 0.3}, nil
		}
		return nil, &MalformedResponseError{Raw: "oops"}
	}))

	g.SubmitClue(context.Background(), TextClue("one"), "")
	before := g.Snapshot()

	turn, err := g.SubmitClue(context.Background(), TextClue("two"), "")
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) || !turn.IsError || turn.IsRateLimited {
		t.Fatalf("expected malformed error turn, got %+v / %v", turn, err)
	}

	after := g.Snapshot()
	if after.Rounds != before.Rounds+1 {
		t.Fatalf("the user turn stays committed: rounds %d -> %d", before.Rounds, after.Rounds)
	}
	if len(after.History) != len(before.History)+2 {
		t.Fatalf("expected user turn and error turn, got %d -> %d", len(before.History), len(after.History))
	}
	if after.Status != before.Status || after.LastGuess != before.LastGuess ||
		after.Confidence != before.Confidence || after.Reasoning != before.Reasoning {
		t.Fatalf("state changed on malformed response: %+v -> %+v", before, after)
	}

	// The user may simply resubmit.
	calls = 0
	if _, err := g.SubmitClue(context.Background(), TextClue("two"), ""); err != nil {
		t.Fatalf("retry should succeed, got %v", err)
	}
}

func TestSubmitWhileInFlightRejected(t *testing.T) {
	b := newBlockingDecider(&Decision{Question: "q"})
	g := newStartedGame(b)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := g.SubmitClue(context.Background(), TextClue("first"), ""); err != nil {
			t.Errorf("first clue: %v", err)
		}
	}()
	waitStarted(t, b)

	if !g.Busy() || !g.Snapshot().Thinking {
		t.Fatal("game should report a clue in flight")
	}
	if _, err := g.SubmitClue(context.Background(), TextClue("second"), ""); !errors.Is(err, ErrRequestInFlight) {
		t.Fatalf("expected ErrRequestInFlight, got %v", err)
	}
	snap := g.Snapshot()
	if snap.Rounds != 1 || len(snap.History) != 2 {
		t.Fatalf("rejected clue must not be recorded: %+v", snap)
	}

	close(b.release)
	wg.Wait()

	if snap := g.Snapshot(); snap.Rounds != 1 || len(snap.History) != 3 || snap.Thinking {
		t.Fatalf("unexpected state after completion: %+v", snap)
	}
}

func TestStaleResponseDiscarded(t *testing.T) {
	b := newBlockingDecider(&Decision{Question: "q", IsCorrectGuess: true})
	g := newStartedGame(b)

	errc := make(chan error, 1)
	go func() {
		_, err := g.SubmitClue(context.Background(), TextClue("old game"), "")
		errc <- err
	}()
	waitStarted(t, b)

	g.Start()
	close(b.release)

	if err := <-errc; !errors.Is(err, ErrStaleResponse) {
		t.Fatalf("expected ErrStaleResponse, got %v", err)
	}

	snap := g.Snapshot()
	if snap.Status != StatusPlaying || snap.Rounds != 0 || len(snap.History) != 1 || snap.Thinking {
		t.Fatalf("stale response leaked into the new game: %+v", snap)
	}
}

func TestSnapshotMediaIsolated(t *testing.T) {
	g := newStartedGame(answer(&Decision{Question: "q"}))
	g.SubmitClue(context.Background(), Clue{Image: []byte{1, 2, 3}}, "")

	snap := g.Snapshot()
	snap.History[1].ImageData[0] = 9

	if got := g.Snapshot().History[1].ImageData; !reflect.DeepEqual(got, []byte{1, 2, 3}) {
		t.Fatalf("snapshot changed the log's media: %v", got)
	}
}

func TestLastTurn(t *testing.T) {
	g := NewGame("g1", answer(&Decision{Question: "q", Guess: "cat"}), "", nil)
	if _, ok := g.LastTurn(); ok {
		t.Fatal("idle game has no turns")
	}

	g.Start()
	if last, ok := g.LastTurn(); !ok || last.Content != greeting {
		t.Fatalf("expected greeting, got %+v", last)
	}

	g.SubmitClue(context.Background(), TextClue("meow"), "")
	if last, _ := g.LastTurn(); !last.IsGuess || last.Content != "Is it a... cat?" {
		t.Fatalf("expected the guess turn, got %+v", last)
	}
}

func TestObserverEvents(t *testing.T) {
	var mu sync.Mutex
	var types []string
	g := NewGame("g1", answer(&Decision{Question: "q"}), "", func(e Event) {
		mu.Lock()
		types = append(types, e.Type)
		mu.Unlock()
	})

	g.Start()
	g.SubmitClue(context.Background(), TextClue("clue"), "")

	want := []string{EventState, EventTurn, EventThinking, EventThinking, EventTurn, EventState}
	if !reflect.DeepEqual(types, want) {
		t.Fatalf("events = %v, want %v", types, want)
	}
}

func TestModelSelection(t *testing.T) {
	var got []string
	d := decideFunc(func(_ context.Context, _ []Message, _ Clue, model string) (*Decision, error) {
		got = append(got, model)
		return &Decision{Question: "q"}, nil
	})
	g := NewGame("g1", d, "default-model", nil)
	g.Start()

	g.SubmitClue(context.Background(), TextClue("a"), "")
	g.SubmitClue(context.Background(), TextClue("b"), "other-model")

	if !reflect.DeepEqual(got, []string{"default-model", "other-model"}) {
		t.Fatalf("unexpected models %v", got)
	}
}
