// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/insightrelay/insightrelay/services/relay/pipeline"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show relay delivery health",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	var st pipeline.Status
	if err := apiGet("/relay/status", &st); err != nil {
		return err
	}
	if statusJSON {
		return printJSON(st)
	}
	fmt.Printf("Service:        %s (%s)\n", st.Service, st.Environment)
	fmt.Printf("Ingest URL:     %s\n", st.IngestURL)
	fmt.Printf("IKey set:       %t\n", st.IKeyConfigured)
	fmt.Printf("Async mode:     %t\n", st.Async)
	fmt.Printf("Sampling rate:  %.2f\n", st.SamplingRate)
	fmt.Printf("Sends:          %d (%d failed)\n", st.Sends, st.Failures)
	fmt.Printf("Queue depth:    %d\n", st.QueueDepth)
	fmt.Printf("Pending async:  %d\n", st.PendingBatches)
	if !st.LastSend.IsZero() {
		fmt.Printf("Last send:      %s\n", st.LastSend)
	}
	if st.LastErrorMsg != "" {
		fmt.Printf("Last error:     [%s] %s\n", st.LastErrorCode, st.LastErrorMsg)
	}
	return nil
}
