package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/fluxorio/flushgate/pkg/config"
	"github.com/fluxorio/flushgate/pkg/flushgate"
	"github.com/fluxorio/flushgate/pkg/log"
)

func newVerifyCmd() *cobra.Command {
	var file, expectFile string
	c := &cobra.Command{
		Use:     "verify",
		Short:   "Sync an existing file and compare its durable content against expected bytes",
		Example: "flushgate verify --file data --expect-file golden.bin",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return verifyFile(cmd, file, expectFile)
		},
	}
	c.Flags().StringVar(&file, "file", "", "file to sync and read back")
	c.Flags().StringVar(&expectFile, "expect-file", "", "file holding the expected content")
	_ = c.MarkFlagRequired("file")
	_ = c.MarkFlagRequired("expect-file")
	return c
}

func verifyFile(cmd *cobra.Command, file, expectFile string) error {
	expected, err := os.ReadFile(expectFile)
	if err != nil {
		return err
	}
	if _, err := os.Stat(file); err != nil {
		return err
	}

	cfg := config.Default(filepath.Dir(file))
	cfg.FileName = filepath.Base(file)
	s, err := flushgate.Open(cfg, flushgate.WithLogger(log.NewNopLogger()))
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	durable, err := s.Durabilizer().FlushOnce(ctx)
	if err != nil {
		return err
	}
	obs, err := s.NewObserver(flushgate.StrategyDirect)
	if err != nil {
		return err
	}
	defer func() { _ = obs.Close() }()
	got, err := obs.Snapshot(ctx)
	if err != nil {
		return err
	}

	if !bytes.Equal(got, expected) {
		return fmt.Errorf("%s: durable content (%d bytes) differs from %s (%d bytes)", file, len(got), expectFile, len(expected))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d durable bytes match\n", file, durable)
	return nil
}
