package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kass/go-facility-map/pkg/transfer"
)

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write saved searches, memos and colors to a JSON file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		svc := transfer.New(s.db, transfer.WithLogger(slog.Default()), transfer.WithLocation(s.ctrl.Location()))
		doc, err := svc.Export(ctx)
		if err != nil {
			return err
		}

		path := exportOut
		if path == "" {
			path = transfer.FileName(time.Now())
		}
		if path == "-" {
			return transfer.Encode(cmd.OutOrStdout(), doc)
		}
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create export: %w", err)
		}
		if err := transfer.Encode(f, doc); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("close export: %w", err)
		}
		printSuccess(cmd.OutOrStdout(), "exported %d searches, %d memos, %d colors to %s",
			len(doc.Searches), len(doc.Memos), len(doc.Colors), path)
		return nil
	},
}

var importCmd = &cobra.Command{
	Use:   "import FILE",
	Short: "Add the saved searches, memos and colors of an export file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("open import: %w", err)
		}
		defer f.Close()

		doc, err := transfer.Decode(f)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		s, err := openSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		svc := transfer.New(s.db, transfer.WithLogger(slog.Default()), transfer.WithLocation(s.ctrl.Location()))
		res, importErr := svc.Import(ctx, doc)
		if res.Searches+res.Memos+res.Colors > 0 {
			if _, err := s.ctrl.Reload(ctx).Wait(ctx); err != nil {
				return errors.Join(importErr, err)
			}
			printSuccess(cmd.OutOrStdout(), "%s", res)
		}
		if importErr != nil {
			return fmt.Errorf("some records were skipped: %w", importErr)
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "output", "o", "", "Output file, - for stdout (default facilities-map-YYYY-MM-DD.json)")
	rootCmd.AddCommand(exportCmd, importCmd)
}
