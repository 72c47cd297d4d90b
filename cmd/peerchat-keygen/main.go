// Copyright 2026 The PeerChat Authors
// SPDX-License-Identifier: Apache-2.0

// Peerchat-keygen manages the Ed25519 identity keypair used by both
// the relay and clients. Running it against an empty state directory
// generates a keypair; against an existing one it prints the public
// key.
package main

import (
	"encoding/base64"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/peerchat-foundation/peerchat/lib/signature"
	"github.com/peerchat-foundation/peerchat/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var stateDir string
	var force bool
	var showVersion bool

	flag.StringVar(&stateDir, "state-dir", ".", "directory holding the identity keypair")
	flag.BoolVar(&force, "force", false, "overwrite an existing keypair")
	flag.BoolVar(&showVersion, "version", false, "print version information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("peerchat-keygen %s\n", version.Info())
		return nil
	}

	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	if force {
		public, private, err := signature.GenerateKeypair()
		if err != nil {
			return err
		}
		if err := signature.SaveKeypair(stateDir, public, private); err != nil {
			return err
		}
		fmt.Printf("generated new keypair in %s\n", stateDir)
		fmt.Printf("public key: %s\n", base64.StdEncoding.EncodeToString(public))
		return nil
	}

	public, _, generated, err := signature.LoadOrGenerateKeypair(stateDir)
	if err != nil {
		return err
	}
	if generated {
		fmt.Printf("generated new keypair in %s\n", stateDir)
	}
	fmt.Printf("public key: %s\n", base64.StdEncoding.EncodeToString(public))
	return nil
}
