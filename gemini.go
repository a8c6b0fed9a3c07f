package main

import (
	"context"

	"google.golang.org/genai"
)

const systemPrompt = `You are the world's most advanced 20-Questions player.
A human player is thinking of an idea, object, or concept.
Your goal is to guess it as quickly and accurately as possible.

You will receive clues as text, voice recordings, or image frames (video).
Earlier clues appear in the conversation as short text summaries.
You MUST respond with a JSON object.

Do not reveal your full chain of thought in the JSON.
Provide a concise justification instead.

JSON structure:
{
  "question": "Your next question to narrow down the concept",
  "guess": "Your official guess if confident, otherwise null",
  "isCorrectGuess": false,
  "reasoningSummary": "Brief explanation",
  "reasoningConfidence": 0.0 to 1.0,
  "giveUp": false
}

Set "isCorrectGuess" to true only once the player has confirmed your guess.
Set "giveUp" to true only if you cannot make any further progress.`

// Decider produces the next decision from the conversation so far and the
// new clue. GeminiClient is the production implementation.
type Decider interface {
	RequestDecision(ctx context.Context, history []Message, clue Clue, model string) (*Decision, error)
}

var decisionSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"question":            {Type: genai.TypeString},
		"guess":               {Type: genai.TypeString},
		"isCorrectGuess":      {Type: genai.TypeBoolean},
		"reasoningSummary":    {Type: genai.TypeString},
		"reasoningConfidence": {Type: genai.TypeNumber},
		"giveUp":              {Type: genai.TypeBoolean},
	},
	Required: []string{"question", "isCorrectGuess", "reasoningConfidence"},
}

// RequestDecision sends one turn to Gemini and returns its decision.
// Failures are returned as *RateLimitedError, *BackendError or
// *MalformedResponseError. Nothing is retried.
func (g *GeminiClient) RequestDecision(ctx context.Context, history []Message, clue Clue, model string) (*Decision, error) {
	if model == "" {
		model = g.modelName
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.Models.GenerateContent(ctx, model, buildContents(history, clue), g.generateConfig())
	if err != nil {
		return nil, classifyError(err)
	}

	answer, thoughts := splitResponse(resp)
	return parseDecision(answer, thoughts)
}

func (g *GeminiClient) generateConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: systemPrompt}}},
		ResponseMIMEType:  "application/json",
		ResponseSchema:    decisionSchema,
		ThinkingConfig: &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(g.thinkingBudget),
		},
	}
}
