package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"google.golang.org/genai"
)

const (
	defaultRegion         = "europe-west1"
	defaultModel          = "gemini-3-pro-preview"
	defaultThinkingBudget = 32768
	defaultRequestTimeout = 2 * time.Minute
)

// GeminiClient wraps the Google GenAI client. It holds the only credential
// used to reach the reasoning backend and keeps no state between calls.
type GeminiClient struct {
	client         *genai.Client
	modelName      string
	thinkingBudget int32
	timeout        time.Duration
}

// BackendConfig carries what is needed to build a GeminiClient.
// Either APIKey (Gemini API) or Project (Vertex AI) must be set.
type BackendConfig struct {
	APIKey         string
	Project        string
	Region         string
	Model          string
	ThinkingBudget int
	Timeout        time.Duration
}

// NewGeminiClient creates a client from explicit configuration. With a
// Vertex AI project, Application Default Credentials are used; set
// GOOGLE_APPLICATION_CREDENTIALS to the service account key file path.
func NewGeminiClient(ctx context.Context, cfg BackendConfig) (*GeminiClient, error) {
	cc := &genai.ClientConfig{}
	switch {
	case cfg.APIKey != "":
		cc.APIKey = cfg.APIKey
		cc.Backend = genai.BackendGeminiAPI
	case cfg.Project != "":
		if cfg.Region == "" {
			cfg.Region = defaultRegion
		}
		cc.Project = cfg.Project
		cc.Location = cfg.Region
		cc.Backend = genai.BackendVertexAI
	default:
		return nil, errors.New("no Gemini credential configured")
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	g := &GeminiClient{
		client:         client,
		modelName:      cfg.Model,
		thinkingBudget: int32(cfg.ThinkingBudget),
		timeout:        cfg.Timeout,
	}
	if g.modelName == "" {
		g.modelName = defaultModel
	}
	if g.thinkingBudget <= 0 {
		g.thinkingBudget = defaultThinkingBudget
	}
	if g.timeout <= 0 {
		g.timeout = defaultRequestTimeout
	}
	return g, nil
}

// Close releases resources held by the client.
func (g *GeminiClient) Close() error {
	return nil
}
