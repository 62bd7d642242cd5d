// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List batches waiting in the retry queue",
	RunE:  runQueueList,
}

var queueFlushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Force-drain the retry queue, ignoring backoff timers",
	RunE:  runQueueFlush,
}

func init() {
	queueCmd.AddCommand(queueFlushCmd)
}

type queueListResponse struct {
	Depth   int `json:"depth"`
	Entries []struct {
		Lines       int       `json:"lines"`
		Attempts    int       `json:"attempts"`
		NextAttempt time.Time `json:"next_attempt"`
	} `json:"entries"`
}

func runQueueList(cmd *cobra.Command, args []string) error {
	var resp queueListResponse
	if err := apiGet("/relay/queue", &resp); err != nil {
		return err
	}
	if resp.Depth == 0 {
		fmt.Println("retry queue is empty")
		return nil
	}
	fmt.Printf("%d batch(es) queued\n", resp.Depth)
	for i, e := range resp.Entries {
		fmt.Printf("  #%d  %d line(s), %d attempt(s), next at %s\n",
			i, e.Lines, e.Attempts, e.NextAttempt.Local())
	}
	return nil
}

func runQueueFlush(cmd *cobra.Command, args []string) error {
	var resp struct {
		Attempted int `json:"attempted"`
		Succeeded int `json:"succeeded"`
		Remaining int `json:"remaining"`
	}
	if err := apiPost("/relay/queue/flush", nil, &resp); err != nil {
		return err
	}
	fmt.Printf("attempted %d, succeeded %d, %d remaining\n",
		resp.Attempted, resp.Succeeded, resp.Remaining)
	return nil
}
