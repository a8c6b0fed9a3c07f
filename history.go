package main

import (
	"bytes"
	"time"
)

// Role identifies who authored a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Modality is how a turn's content was provided.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityVoice Modality = "voice"
	ModalityVideo Modality = "video"
)

// Backend role names used in projections.
const (
	backendRoleUser  = "user"
	backendRoleModel = "model"
)

// Turn is one immutable entry of the conversation log.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Type      Modality  `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	// Media is kept for replay in the UI and is never sent back to the backend.
	ImageData []byte `json:"imageData,omitempty"`
	AudioData []byte `json:"audioData,omitempty"`

	Reasoning     string `json:"reasoning,omitempty"`
	Summary       string `json:"summary,omitempty"`
	IsGuess       bool   `json:"isGuess,omitempty"`
	IsError       bool   `json:"isError,omitempty"`
	IsRateLimited bool   `json:"isRateLimited,omitempty"`
}

// Message is the backend view of a turn: a role and its display text.
type Message struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// History is the append-only conversation log of one game.
// It is not safe for concurrent use; Game guards it.
type History struct {
	turns []Turn
}

// NewHistory returns an empty log.
func NewHistory() *History {
	return &History{}
}

// Append adds a turn at the end of the log.
func (h *History) Append(t Turn) {
	h.turns = append(h.turns, cloneTurn(t))
}

// Len returns the number of turns.
func (h *History) Len() int {
	return len(h.turns)
}

// Last returns the most recent turn, if any.
func (h *History) Last() (Turn, bool) {
	if len(h.turns) == 0 {
		return Turn{}, false
	}
	return cloneTurn(h.turns[len(h.turns)-1]), true
}

// UserTurns counts the user-authored turns.
func (h *History) UserTurns() int {
	n := 0
	for _, t := range h.turns {
		if t.Role == RoleUser {
			n++
		}
	}
	return n
}

// Turns returns a copy of the log in insertion order. Media is copied too,
// so callers cannot reach a committed turn.
func (h *History) Turns() []Turn {
	out := make([]Turn, len(h.turns))
	for i, t := range h.turns {
		out[i] = cloneTurn(t)
	}
	return out
}

func cloneTurn(t Turn) Turn {
	t.ImageData = bytes.Clone(t.ImageData)
	t.AudioData = bytes.Clone(t.AudioData)
	return t
}

// ProjectForBackend returns the (role, text) sequence sent to the backend.
// Media never appears here: earlier clues are represented by their text.
func (h *History) ProjectForBackend() []Message {
	out := make([]Message, 0, len(h.turns))
	for _, t := range h.turns {
		role := backendRoleModel
		if t.Role == RoleUser {
			role = backendRoleUser
		}
		out = append(out, Message{Role: role, Text: t.Content})
	}
	return out
}
