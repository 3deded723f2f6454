// Copyright (C) 2025 Plotforge (dev@plotforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/plotforge/gridstudio/services/studio/datatypes"
)

// apiClient is a thin JSON client for the studio API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr datatypes.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *apiClient) createExperiment(ctx context.Context, req datatypes.CreateExperimentRequest) (*datatypes.Experiment, error) {
	var exp datatypes.Experiment
	if err := c.do(ctx, http.MethodPost, "/v1/experiments", req, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

func (c *apiClient) listExperiments(ctx context.Context) ([]*datatypes.Experiment, error) {
	var exps []*datatypes.Experiment
	if err := c.do(ctx, http.MethodGet, "/v1/experiments", nil, &exps); err != nil {
		return nil, err
	}
	return exps, nil
}

func (c *apiClient) getExperiment(ctx context.Context, id string) (*datatypes.Experiment, error) {
	var exp datatypes.Experiment
	if err := c.do(ctx, http.MethodGet, "/v1/experiments/"+id, nil, &exp); err != nil {
		return nil, err
	}
	return &exp, nil
}

func (c *apiClient) executeExperiment(ctx context.Context, id string) (*datatypes.ExecuteResponse, error) {
	var resp datatypes.ExecuteResponse
	if err := c.do(ctx, http.MethodPost, "/v1/experiments/"+id+"/execute", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) cancelExperiment(ctx context.Context, id string) (*datatypes.ExecuteResponse, error) {
	var resp datatypes.ExecuteResponse
	if err := c.do(ctx, http.MethodPost, "/v1/experiments/"+id+"/cancel", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) listEnums(ctx context.Context) (*datatypes.AvailableEnumsResponse, error) {
	var resp datatypes.AvailableEnumsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/enums", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *apiClient) getEnum(ctx context.Context, name string) (*datatypes.EnumValuesResponse, error) {
	var resp datatypes.EnumValuesResponse
	if err := c.do(ctx, http.MethodGet, "/v1/enums/"+name, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
