// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command relayctl is the operator CLI for a running relay instance.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// addr is the base URL of the relay admin API.
var addr string

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Operate a running Insight Relay instance",
	Long: `relayctl talks to the relay admin API to inspect delivery health,
manage the retry queue, and send test telemetry.

Examples:
  relayctl status                    # Delivery health snapshot
  relayctl queue                     # List queued retry batches
  relayctl queue flush               # Force-drain the retry queue
  relayctl send-test -m "hello"      # Emit a test trace
  relayctl encrypt-secret            # Encrypt a connection string`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&addr, "addr",
		"http://localhost:8312", "base URL of the relay admin API")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(sendTestCmd)
	rootCmd.AddCommand(encryptSecretCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
