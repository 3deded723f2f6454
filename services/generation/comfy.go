// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("gridstudio.generation.comfy")

// ComfyConfig configures the ComfyUI client.
type ComfyConfig struct {
	// BaseURL is the ComfyUI server URL, e.g. "http://localhost:8188".
	BaseURL string

	// ClientID identifies this service to ComfyUI. Default: "gridstudio".
	ClientID string

	// PollInterval is how often to poll job history. Default: 500ms.
	PollInterval time.Duration

	// HTTPTimeout bounds individual HTTP calls, not whole jobs.
	// Default: 30s.
	HTTPTimeout time.Duration
}

// ComfyClient talks to a ComfyUI server over its HTTP API: jobs are
// queued via POST /prompt and results collected by polling
// GET /history/{prompt_id}.
type ComfyClient struct {
	httpClient   *http.Client
	baseURL      string
	clientID     string
	pollInterval time.Duration
}

// NewComfyClient creates a client for the given configuration.
func NewComfyClient(cfg ComfyConfig) (*ComfyClient, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("comfy: BaseURL is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gridstudio"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout == 0 {
		cfg.HTTPTimeout = 30 * time.Second
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	slog.Info("Initializing ComfyUI client", "base_url", baseURL, "client_id", cfg.ClientID)
	return &ComfyClient{
		httpClient:   &http.Client{Timeout: cfg.HTTPTimeout},
		baseURL:      baseURL,
		clientID:     cfg.ClientID,
		pollInterval: cfg.PollInterval,
	}, nil
}

// NewComfyClientFromEnv builds a client from COMFYUI_URL and
// COMFYUI_CLIENT_ID.
func NewComfyClientFromEnv() (*ComfyClient, error) {
	baseURL := os.Getenv("COMFYUI_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("COMFYUI_URL environment variable not set")
	}
	return NewComfyClient(ComfyConfig{
		BaseURL:  baseURL,
		ClientID: os.Getenv("COMFYUI_CLIENT_ID"),
	})
}

type promptRequest struct {
	Prompt   json.RawMessage `json:"prompt"`
	ClientID string          `json:"client_id"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
}

type historyImage struct {
	Filename  string `json:"filename"`
	Subfolder string `json:"subfolder"`
	Type      string `json:"type"`
}

type historyEntry struct {
	Status struct {
		StatusStr string `json:"status_str"`
		Completed bool   `json:"completed"`
		Messages  []any  `json:"messages"`
	} `json:"status"`
	Outputs map[string]struct {
		Images []historyImage `json:"images"`
	} `json:"outputs"`
}

// Submit implements Client. It queues the job, then polls history until
// the job finishes or ctx expires. Context expiry is reported as
// transient so the engine's retry policy applies.
func (c *ComfyClient) Submit(ctx context.Context, job JobPayload) (ArtifactRef, error) {
	ctx, span := tracer.Start(ctx, "ComfyClient.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("comfy.filename_prefix", job.FilenamePrefix))

	promptID, err := c.queuePrompt(ctx, job)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ArtifactRef{}, err
	}
	span.SetAttributes(attribute.String("comfy.prompt_id", promptID))

	ref, err := c.awaitResult(ctx, promptID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return ArtifactRef{}, err
	}
	return ref, nil
}

// stampFilenamePrefix writes the job's filename prefix into the inputs
// of every SaveImage node in the graph. Builders leave the prefix blank
// and the engine assigns it per combination, so the stamp has to happen
// here, on the wire payload. Non-SaveImage nodes are left untouched.
func stampFilenamePrefix(graph json.RawMessage, prefix string) (json.RawMessage, error) {
	if prefix == "" {
		return graph, nil
	}
	var nodes map[string]map[string]json.RawMessage
	if err := json.Unmarshal(graph, &nodes); err != nil {
		return nil, fmt.Errorf("decode graph: %w", err)
	}
	stamped := false
	for id, node := range nodes {
		var classType string
		if err := json.Unmarshal(node["class_type"], &classType); err != nil || classType != "SaveImage" {
			continue
		}
		var inputs map[string]json.RawMessage
		if err := json.Unmarshal(node["inputs"], &inputs); err != nil {
			return nil, fmt.Errorf("decode inputs of node %s: %w", id, err)
		}
		encoded, err := json.Marshal(prefix)
		if err != nil {
			return nil, err
		}
		inputs["filename_prefix"] = encoded
		rewritten, err := json.Marshal(inputs)
		if err != nil {
			return nil, err
		}
		node["inputs"] = rewritten
		stamped = true
	}
	if !stamped {
		return graph, nil
	}
	return json.Marshal(nodes)
}

func (c *ComfyClient) queuePrompt(ctx context.Context, job JobPayload) (string, error) {
	graph, err := stampFilenamePrefix(job.Graph, job.FilenamePrefix)
	if err != nil {
		return "", Fatal(fmt.Errorf("apply filename prefix: %w", err))
	}
	body, err := json.Marshal(promptRequest{Prompt: graph, ClientID: c.clientID})
	if err != nil {
		return "", Fatal(fmt.Errorf("marshal prompt request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/prompt", bytes.NewReader(body))
	if err != nil {
		return "", Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		slog.Warn("ComfyUI queue call failed", "error", err)
		return "", Transient(err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 500 {
		return "", Transient(fmt.Errorf("comfy returned %d: %s", resp.StatusCode, respBody))
	}
	if resp.StatusCode >= 400 {
		// ComfyUI rejects malformed graphs and unknown model names with 400.
		return "", Fatal(fmt.Errorf("comfy rejected prompt (%d): %s", resp.StatusCode, respBody))
	}

	var pr promptResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return "", Transient(fmt.Errorf("decode prompt response: %w", err))
	}
	if pr.PromptID == "" {
		return "", Fatal(errors.New("comfy returned empty prompt_id"))
	}
	return pr.PromptID, nil
}

func (c *ComfyClient) awaitResult(ctx context.Context, promptID string) (ArtifactRef, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ArtifactRef{}, Transient(fmt.Errorf("awaiting prompt %s: %w", promptID, ctx.Err()))
		case <-ticker.C:
		}

		entry, found, err := c.fetchHistory(ctx, promptID)
		if err != nil {
			return ArtifactRef{}, err
		}
		if !found {
			continue
		}

		if entry.Status.StatusStr == "error" {
			return ArtifactRef{}, Fatal(fmt.Errorf("comfy execution failed for prompt %s", promptID))
		}
		if !entry.Status.Completed && len(entry.Outputs) == 0 {
			continue
		}

		for _, out := range entry.Outputs {
			if len(out.Images) > 0 {
				img := out.Images[0]
				return ArtifactRef{
					Path:     path.Join(img.Subfolder, img.Filename),
					PromptID: promptID,
				}, nil
			}
		}
		if entry.Status.Completed {
			return ArtifactRef{}, Fatal(fmt.Errorf("prompt %s completed with no image outputs", promptID))
		}
	}
}

func (c *ComfyClient) fetchHistory(ctx context.Context, promptID string) (historyEntry, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/history/"+promptID, nil)
	if err != nil {
		return historyEntry{}, false, Fatal(err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return historyEntry{}, false, Transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return historyEntry{}, false, Transient(fmt.Errorf("history returned %d", resp.StatusCode))
	}

	var hist map[string]historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		return historyEntry{}, false, Transient(fmt.Errorf("decode history: %w", err))
	}
	entry, ok := hist[promptID]
	return entry, ok, nil
}

// Ping implements Client via GET /system_stats.
func (c *ComfyClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/system_stats", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("system_stats returned %d", resp.StatusCode)
	}
	return nil
}

// ObjectInfo fetches the backend node catalog (GET /object_info), the
// source of sampler/scheduler/model enumerations.
func (c *ComfyClient) ObjectInfo(ctx context.Context) (map[string]json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/object_info", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch object_info: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object_info returned %d", resp.StatusCode)
	}

	var info map[string]json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("decode object_info: %w", err)
	}
	return info, nil
}

var _ Client = (*ComfyClient)(nil)
