package main

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Status is the lifecycle state of a game.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusPlaying Status = "playing"
	StatusWon     Status = "won"
	StatusLost    Status = "lost"
)

// roundLimit is the nominal number of questions shown next to the round counter.
const roundLimit = 20

const (
	greeting         = "I'm ready! Think of an idea, object, or concept. Give me a first clue: you can type it, say it, or even show me something through your camera."
	initialReasoning = "Initializing deep reasoning game loop. Awaiting user context..."

	visualClueText = "User shared a visual clue."
	voiceClueText  = "User shared a voice clue."

	// Replies offered in response to a guess. They are ordinary text clues.
	confirmGuess = "Yes, you got it!"
	denyGuess    = "No, that's not it."
)

var (
	ErrNotPlaying      = errors.New("game is not in progress")
	ErrRequestInFlight = errors.New("a clue is already being processed")
	ErrStaleResponse   = errors.New("response belongs to a previous game")
)

// Event types sent to the game observer.
const (
	EventTurn     = "turn"
	EventState    = "state"
	EventThinking = "thinking"
)

// Event describes a change of a game.
type Event struct {
	Type     string    `json:"type"`
	Turn     *Turn     `json:"turn,omitempty"`
	State    *Snapshot `json:"state,omitempty"`
	Thinking bool      `json:"thinking"`
}

// Snapshot is a read-only copy of a game's state.
type Snapshot struct {
	ID         string `json:"id"`
	Status     Status `json:"status"`
	Rounds     int    `json:"rounds"`
	RoundLimit int    `json:"roundLimit"`
	History    []Turn `json:"history"`
	LastGuess  string `json:"lastGuess"`
	Thinking   bool   `json:"thinking"`
	Epoch      uint64 `json:"epoch"`
	ReasoningView
}

// Game is the turn orchestrator of one session. It owns the conversation
// log; the decider only ever sees projections of it.
type Game struct {
	ID        string
	CreatedAt time.Time

	decider Decider
	model   string
	notify  func(Event)

	mu         sync.Mutex
	status     Status
	history    *History
	reasoning  string
	lastGuess  string
	confidence float64
	epoch      uint64
	inFlight   bool
	lastActive time.Time
}

// NewGame creates an idle game. model may be empty to use the decider's
// default; notify may be nil.
func NewGame(id string, decider Decider, model string, notify func(Event)) *Game {
	now := time.Now()
	return &Game{
		ID:         id,
		CreatedAt:  now,
		decider:    decider,
		model:      model,
		notify:     notify,
		status:     StatusIdle,
		history:    NewHistory(),
		lastActive: now,
	}
}

// Start begins a new game from any state. A request still in flight for the
// previous game is left to finish; its response is discarded.
func (g *Game) Start() Snapshot {
	g.mu.Lock()
	g.epoch++
	g.status = StatusPlaying
	g.history = NewHistory()
	g.history.Append(Turn{
		Role:      RoleAssistant,
		Content:   greeting,
		Type:      ModalityText,
		Timestamp: time.Now(),
	})
	g.reasoning = initialReasoning
	g.lastGuess = ""
	g.confidence = 0
	g.inFlight = false
	g.lastActive = time.Now()
	snap := g.snapshotLocked()
	g.mu.Unlock()

	g.emit(Event{Type: EventState, State: &snap})
	return snap
}

// SubmitClue plays one round. It returns the assistant turn appended for
// this round: the backend's question or guess, or a visible error turn.
// When the decider fails, the error turn is returned along with the error.
func (g *Game) SubmitClue(ctx context.Context, clue Clue, model string) (Turn, error) {
	g.mu.Lock()
	if g.status != StatusPlaying {
		g.mu.Unlock()
		return Turn{}, ErrNotPlaying
	}
	if g.inFlight {
		g.mu.Unlock()
		return Turn{}, ErrRequestInFlight
	}

	// The projection is taken before the user turn is appended so that the
	// clue reaches the backend once, as the newest message.
	projection := g.history.ProjectForBackend()
	user := userTurn(clue)
	g.history.Append(user)
	g.inFlight = true
	g.lastActive = time.Now()
	epoch := g.epoch
	if model == "" {
		model = g.model
	}
	g.mu.Unlock()

	g.emit(Event{Type: EventTurn, Turn: &user})
	g.emit(Event{Type: EventThinking, Thinking: true})

	decision, err := g.decider.RequestDecision(ctx, projection, clue, model)

	g.mu.Lock()
	if g.epoch != epoch {
		g.mu.Unlock()
		return Turn{}, ErrStaleResponse
	}
	g.inFlight = false
	g.lastActive = time.Now()

	var reply Turn
	if err != nil {
		reply = errorTurn(err)
		g.history.Append(reply)
	} else {
		reply = g.applyLocked(decision)
	}
	snap := g.snapshotLocked()
	g.mu.Unlock()

	g.emit(Event{Type: EventThinking, Thinking: false})
	g.emit(Event{Type: EventTurn, Turn: &reply})
	g.emit(Event{Type: EventState, State: &snap})
	return reply, err
}

func (g *Game) applyLocked(d *Decision) Turn {
	reply := Turn{
		Role:      RoleAssistant,
		Content:   d.Question,
		Type:      ModalityText,
		Timestamp: time.Now(),
		Reasoning: d.ThoughtProcess,
		Summary:   d.ReasoningSummary,
		IsGuess:   d.HasGuess(),
	}
	if reply.IsGuess {
		reply.Content = "Is it a... " + d.Guess + "?"
		g.lastGuess = d.Guess
	}
	g.history.Append(reply)

	g.reasoning = d.ThoughtProcess
	g.confidence = d.ReasoningConfidence

	switch {
	case d.IsCorrectGuess:
		g.status = StatusWon
	case d.GiveUp:
		g.status = StatusLost
	}
	return reply
}

func userTurn(c Clue) Turn {
	t := Turn{
		Role:      RoleUser,
		Content:   c.Text,
		Type:      c.Modality(),
		Timestamp: time.Now(),
		ImageData: c.Image,
		AudioData: c.Audio,
	}
	if t.Content == "" {
		switch t.Type {
		case ModalityVideo:
			t.Content = visualClueText
		case ModalityVoice:
			t.Content = voiceClueText
		default:
			t.Content = placeholderClue
		}
	}
	return t
}

func errorTurn(err error) Turn {
	var limited *RateLimitedError
	return Turn{
		Role:          RoleAssistant,
		Content:       userMessage(err),
		Type:          ModalityText,
		Timestamp:     time.Now(),
		IsError:       true,
		IsRateLimited: errors.As(err, &limited),
	}
}

// Snapshot returns a copy of the current state.
func (g *Game) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

func (g *Game) snapshotLocked() Snapshot {
	return Snapshot{
		ID:            g.ID,
		Status:        g.status,
		Rounds:        g.history.UserTurns(),
		RoundLimit:    roundLimit,
		History:       g.history.Turns(),
		LastGuess:     g.lastGuess,
		Thinking:      g.inFlight,
		Epoch:         g.epoch,
		ReasoningView: g.reasoningLocked(),
	}
}

// LastTurn returns the most recent turn of the conversation.
func (g *Game) LastTurn() (Turn, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.history.Last()
}

// Reasoning returns the latest reasoning and a display-safe confidence.
func (g *Game) Reasoning() ReasoningView {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.reasoningLocked()
}

func (g *Game) reasoningLocked() ReasoningView {
	return ReasoningView{Reasoning: g.reasoning, Confidence: clampConfidence(g.confidence)}
}

// Status returns the current status.
func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// Busy reports whether a clue is being processed.
func (g *Game) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inFlight
}

// IdleSince returns the time of the last activity.
func (g *Game) IdleSince() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.lastActive
}

func (g *Game) emit(e Event) {
	if g.notify != nil {
		g.notify(e)
	}
}
