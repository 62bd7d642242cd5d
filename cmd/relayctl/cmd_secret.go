// Copyright (C) 2025 Insight Relay Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/insightrelay/insightrelay/services/relay/secrets"
)

var encryptSecretCmd = &cobra.Command{
	Use:   "encrypt-secret",
	Short: "Encrypt a connection string for the config file",
	Long: `Reads a connection string from stdin and prints the encrypted
form suitable for relay.yaml. The key comes from AIW_SECRET_KEY; the
relay must run with the same key to decrypt it.

This runs entirely locally and never contacts the relay.`,
	RunE: runEncryptSecret,
}

func runEncryptSecret(cmd *cobra.Command, args []string) error {
	key := os.Getenv("AIW_SECRET_KEY")
	if key == "" {
		return fmt.Errorf("AIW_SECRET_KEY is not set")
	}
	kc, err := secrets.NewKeychain(key)
	if err != nil {
		return err
	}

	fmt.Fprint(os.Stderr, "Connection string: ")
	reader := bufio.NewReader(os.Stdin)
	value, err := reader.ReadString('\n')
	if err != nil && value == "" {
		return fmt.Errorf("read input: %w", err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("empty input")
	}

	sealed, err := kc.Encrypt(value)
	if err != nil {
		return err
	}
	fmt.Println(sealed)
	return nil
}
