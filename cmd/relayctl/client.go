// Copyright (C) 2025 Insight Relay Authors
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
	"time"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// apiGet fetches a JSON resource from the relay admin API into out.
func apiGet(path string, out any) error {
	resp, err := httpClient.Get(addr + path)
	if err != nil {
		return fmt.Errorf("relay unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

// apiPost sends a JSON body to the relay admin API and decodes the
// response into out. A nil body sends an empty POST.
func apiPost(path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	}
	resp, err := httpClient.Post(addr+path, "application/json", reader)
	if err != nil {
		return fmt.Errorf("relay unreachable at %s: %w", addr, err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned %s: %s", resp.Status, bytes.TrimSpace(raw))
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// printJSON renders v with indentation for terminal output.
func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}
