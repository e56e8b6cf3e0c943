// Copyright (c) 2025 MeReader authors
// All rights reserved. Use of this source code is governed by an
// MIT-style license that can be found in the LICENSE file.

// Package ollama talks to a local Ollama runtime for embeddings and text
// generation.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/WhiteHades/mereader/internal/apperr"
)

// Client is an Ollama HTTP client.
type Client struct {
	BaseURL        string
	LLMModel       string
	EmbeddingModel string
	// Concurrency bounds parallel requests in EmbedBatch.
	Concurrency int

	http *http.Client
	log  *zap.Logger
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	LLMModel       string
	EmbeddingModel string
	Timeout        time.Duration
	Concurrency    int
}

// New returns a client for the runtime at opts.BaseURL.
func New(opts Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	log.Info("ollama client", zap.String("llm", opts.LLMModel), zap.String("embedding", opts.EmbeddingModel))
	return &Client{
		BaseURL:        strings.TrimRight(opts.BaseURL, "/"),
		LLMModel:       opts.LLMModel,
		EmbeddingModel: opts.EmbeddingModel,
		Concurrency:    opts.Concurrency,
		http:           &http.Client{Timeout: opts.Timeout},
		log:            log,
	}
}

// GenerateOptions tune a completion.
type GenerateOptions struct {
	System      string
	Temperature float64
	// MaxTokens maps to num_predict; zero leaves the model default.
	MaxTokens int
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	System  string         `json:"system,omitempty"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options"`
}

type generateChunk struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *Client) post(ctx context.Context, endpoint string, body any) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Internal(err, "encode ollama request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, apperr.Internal(err, "build ollama request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*http.Response, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Error("ollama request failed", zap.String("url", req.URL.String()), zap.Error(err))
		return nil, apperr.Unavailable(err, "Request to Ollama API failed")
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Error("ollama api error", zap.Int("status", resp.StatusCode), zap.ByteString("body", msg))
		return nil, apperr.Unavailable(nil, "Ollama API error: %d - %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return resp, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, body, out any) error {
	resp, err := c.post(ctx, endpoint, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperr.Unavailable(err, "decode ollama response")
	}
	return nil
}

// Embed returns the embedding vector for text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	err := c.postJSON(ctx, "/api/embeddings", map[string]string{"model": c.EmbeddingModel, "prompt": text}, &out)
	if err != nil {
		return nil, err
	}
	if len(out.Embedding) == 0 {
		return nil, apperr.Unavailable(nil, "No embedding found in Ollama API response")
	}
	return out.Embedding, nil
}

// EmbedBatch embeds texts concurrently, preserving order. The first error
// cancels the remaining requests.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.Concurrency)
	for i, t := range texts {
		i, t := i, t
		g.Go(func() error {
			v, err := c.Embed(gctx, t)
			if err != nil {
				return err
			}
			out[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) generateRequest(prompt string, opts GenerateOptions, stream bool) generateRequest {
	o := map[string]any{"temperature": opts.Temperature}
	if opts.MaxTokens > 0 {
		o["num_predict"] = opts.MaxTokens
	}
	return generateRequest{Model: c.LLMModel, Prompt: prompt, System: opts.System, Stream: stream, Options: o}
}

// Generate returns a full completion for prompt.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	var out generateChunk
	if err := c.postJSON(ctx, "/api/generate", c.generateRequest(prompt, opts, false), &out); err != nil {
		return "", err
	}
	return out.Response, nil
}

// GenerateStream streams a completion, calling onToken for each fragment,
// and returns the concatenated text. Lines that are not JSON are skipped.
func (c *Client) GenerateStream(ctx context.Context, prompt string, opts GenerateOptions, onToken func(string) error) (string, error) {
	resp, err := c.post(ctx, "/api/generate", c.generateRequest(prompt, opts, true))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var full strings.Builder
	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk generateChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			continue
		}
		if chunk.Response != "" {
			full.WriteString(chunk.Response)
			if onToken != nil {
				if err := onToken(chunk.Response); err != nil {
					return full.String(), err
				}
			}
		}
		if chunk.Done {
			break
		}
	}
	if err := sc.Err(); err != nil {
		return full.String(), apperr.Unavailable(err, "Failed to process streamed response")
	}
	return full.String(), nil
}

// Ping reports whether the runtime answers /api/version.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/api/version", nil)
	if err != nil {
		return apperr.Internal(err, "build ollama request")
	}
	resp, err := c.do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// Available is Ping as a bool.
func (c *Client) Available(ctx context.Context) bool {
	return c.Ping(ctx) == nil
}

func (c *Client) String() string {
	return fmt.Sprintf("ollama(%s, llm=%s, embed=%s)", c.BaseURL, c.LLMModel, c.EmbeddingModel)
}
