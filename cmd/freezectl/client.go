// Copyright (C) 2025 LatticeForge (oss@latticeforge.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/latticeforge/macefreeze/services/freeze/datatypes"
)

// apiClient talks to a running Freeze controller.
//
// Stage requests can legitimately take hours (training, labeling), so
// the client carries no timeout of its own; the controller enforces
// per-stage limits server-side.
var apiClient = &http.Client{}

// shortClient is for quick control-plane calls like health checks.
var shortClient = &http.Client{Timeout: 10 * time.Second}

func apiURL(path string) string {
	return strings.TrimRight(serverURL, "/") + path
}

// decodeAPIError turns a non-2xx response into a readable error.
func decodeAPIError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var envelope datatypes.ErrorResponse
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error != "" {
		return fmt.Errorf("%s: %s", envelope.Code, envelope.Error)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
}

// postJSON posts reqBody and decodes the JSON response into out.
func postJSON(client *http.Client, path string, reqBody, out any) error {
	var reader io.Reader
	if reqBody != nil {
		payload, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequest(http.MethodPost, apiURL(path), reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("could not reach the controller at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// getJSON fetches path and decodes the JSON response into out.
func getJSON(client *http.Client, path string, out any) error {
	resp, err := client.Get(apiURL(path))
	if err != nil {
		return fmt.Errorf("could not reach the controller at %s: %w", serverURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// printJSON pretty-prints v to stdout.
func printJSON(v any) error {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(payload))
	return nil
}
