package main

import (
	"encoding/json"
	"strings"

	"google.golang.org/genai"
)

// Decision is the structured answer of the reasoning backend for one turn.
type Decision struct {
	Question            string  `json:"question"`
	Guess               string  `json:"guess,omitempty"`
	IsCorrectGuess      bool    `json:"isCorrectGuess"`
	ReasoningSummary    string  `json:"reasoningSummary"`
	ReasoningConfidence float64 `json:"reasoningConfidence"`
	GiveUp              bool    `json:"giveUp"`
	ThoughtProcess      string  `json:"thoughtProcess,omitempty"`
}

// HasGuess reports whether the decision carries an official guess.
// The backend sometimes spells an absent guess as the string "null".
func (d *Decision) HasGuess() bool {
	return d.Guess != "" && d.Guess != "null"
}

// splitResponse separates the final answer text from the thinking trace.
// Both keep the order in which the parts were emitted.
func splitResponse(resp *genai.GenerateContentResponse) (answer, thoughts string) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ""
	}

	var a, t strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Text == "" {
			continue
		}
		if p.Thought {
			t.WriteString(p.Text)
		} else {
			a.WriteString(p.Text)
		}
	}
	return a.String(), t.String()
}

// parseDecision decodes the backend's raw answer. Missing fields keep their
// zero values; anything that is not a JSON object is malformed.
func parseDecision(raw, thoughts string) (*Decision, error) {
	text := strings.TrimSpace(raw)
	if !strings.HasPrefix(text, "{") {
		return nil, &MalformedResponseError{Raw: raw}
	}

	var d Decision
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return nil, &MalformedResponseError{Raw: raw, Err: err}
	}

	d.ThoughtProcess = strings.TrimSpace(thoughts)
	if d.ThoughtProcess == "" {
		d.ThoughtProcess = d.ReasoningSummary
	}
	return &d, nil
}
