/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package parser is the natural-language input boundary. The engine only
// depends on the Parser interface; the bundled implementation calls an
// external text-to-action service over HTTP.
package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/bragi_flows/internal/actions"
)

// Parser turns a free-text description into an action draft list.
type Parser interface {
	ParseDescription(ctx context.Context, text string) (actions.ActionList, error)
}

// HTTPParser posts descriptions to an external parsing service.
type HTTPParser struct {
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

// NewHTTPParser creates a parser client for the given endpoint.
func NewHTTPParser(endpoint string, logger zerolog.Logger) *HTTPParser {
	return &HTTPParser{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
		logger:   logger.With().Str("component", "parser").Logger(),
	}
}

type parseRequest struct {
	Text string `json:"text"`
}

type parseResponse struct {
	Actions actions.ActionList `json:"actions"`
	Error   string             `json:"error,omitempty"`
}

// ParseDescription sends the text to the parsing service and decodes the
// returned action list. Returned actions are validated before they are
// handed to the caller; the service's output is untrusted input.
func (p *HTTPParser) ParseDescription(ctx context.Context, text string) (actions.ActionList, error) {
	if text == "" {
		return nil, fmt.Errorf("empty description")
	}

	body, err := json.Marshal(parseRequest{Text: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint+"/v1/parse", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("parse service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("parse service returned %d: %s", resp.StatusCode, string(data))
	}

	var parsed parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode parse response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("parse service: %s", parsed.Error)
	}
	if err := parsed.Actions.Validate(); err != nil {
		return nil, fmt.Errorf("parse service returned invalid actions: %w", err)
	}
	return parsed.Actions, nil
}
