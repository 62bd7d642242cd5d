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
)

var (
	testMessage   string
	testLevel     string
	testException bool
)

var sendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Emit test telemetry through the full pipeline",
	RunE:  runSendTest,
}

func init() {
	sendTestCmd.Flags().StringVarP(&testMessage, "message", "m",
		"insightrelay test message", "message text for the test trace")
	sendTestCmd.Flags().StringVarP(&testLevel, "level", "l",
		"info", "level slug (debug, info, notice, warning, error, ...)")
	sendTestCmd.Flags().BoolVar(&testException, "exception", false,
		"also emit a synthetic exception")
}

func runSendTest(cmd *cobra.Command, args []string) error {
	body := map[string]any{
		"message":        testMessage,
		"level":          testLevel,
		"with_exception": testException,
	}
	var resp struct {
		Sent      bool   `json:"sent"`
		LastError string `json:"last_error"`
	}
	if err := apiPost("/relay/test", body, &resp); err != nil {
		return err
	}
	if resp.LastError != "" {
		fmt.Printf("sent, but last delivery reported: %s\n", resp.LastError)
		return nil
	}
	fmt.Println("test telemetry sent")
	return nil
}
