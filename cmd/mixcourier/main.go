// SPDX-FileCopyrightText: Copyright (C) 2026 mixcourier authors
// SPDX-License-Identifier: AGPL-3.0-only

package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mixcourier/mixcourier/client"
	"github.com/mixcourier/mixcourier/client/config"
	"github.com/mixcourier/mixcourier/common"
	"github.com/mixcourier/mixcourier/core/pki"
)

const (
	flagConfig    = "config"
	flagDirectory = "directory"
)

// filePKI is a pki.Client that reads a serialized directory document from
// the local filesystem.
type filePKI struct {
	path string
}

func (f *filePKI) Fetch(ctx context.Context) (*pki.Document, error) {
	if f.path == "" {
		return nil, pki.ErrDirectoryUnavailable
	}
	b, err := os.ReadFile(f.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", pki.ErrDirectoryUnavailable, err)
	}
	doc := new(pki.Document)
	if err = doc.UnmarshalBinary(b); err != nil {
		return nil, fmt.Errorf("%w: %v", pki.ErrDirectoryUnavailable, err)
	}
	return doc, nil
}

func newClient(cmd *cobra.Command) (*client.Client, error) {
	cfgFile, _ := cmd.Flags().GetString(flagConfig)
	if cfgFile == "" {
		return nil, fmt.Errorf("config file must be specified")
	}
	cfg, err := config.LoadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config file '%v': %v", cfgFile, err)
	}
	dirFile, _ := cmd.Flags().GetString(flagDirectory)
	return client.New(cfg, &filePKI{path: dirFile}, os.Stdout)
}

var rootCmd = &cobra.Command{
	Use:           "mixcourier",
	Short:         "Mix network client core tool",
	Long:          "A CLI tool for packet accounting, SURB generation and SURB inspection.",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var countPacketsCmd = &cobra.Command{
	Use:   "count-packets <message-length>",
	Short: "Count the Sphinx packets required for a message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		length, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid argument '%v': %v", args[0], err)
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Shutdown()
		_, err = c.CountPackets(length)
		return err
	},
}

var generateSURBCmd = &cobra.Command{
	Use:   "generate-surb <recipient>",
	Short: "Generate single use reply blocks",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		if count < 1 {
			return fmt.Errorf("invalid argument: count must be positive")
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Shutdown()
		_, err = c.GenerateSURBs(context.Background(), []byte(args[0]), count, time.Now())
		return err
	},
}

var inspectSURBCmd = &cobra.Command{
	Use:   "inspect-surb <surb-file>",
	Short: "Inspect a single use reply block",
	Long:  "Inspect a base64 encoded SURB blob read from the given file, reporting its digest, expiry and usage state.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		blob, err := base64.StdEncoding.DecodeString(string(raw))
		if err != nil {
			return fmt.Errorf("invalid argument: SURB file is not base64: %v", err)
		}
		c, err := newClient(cmd)
		if err != nil {
			return err
		}
		defer c.Shutdown()
		_, err = c.InspectSURB(blob)
		return err
	},
}

func main() {
	rootCmd.PersistentFlags().StringP(flagConfig, "f", "", "path to the TOML config file (required)")
	rootCmd.PersistentFlags().StringP(flagDirectory, "d", "", "path to a serialized directory document")
	generateSURBCmd.Flags().IntP("count", "n", 1, "number of SURBs to generate")

	rootCmd.AddCommand(countPacketsCmd)
	rootCmd.AddCommand(generateSURBCmd)
	rootCmd.AddCommand(inspectSURBCmd)

	common.ExecuteWithFang(rootCmd)
}
