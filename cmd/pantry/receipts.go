package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshsymonds/the-pantry-must-flow/internal/cli"
	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/receipt"
)

var importExtensions = []string{".jpg", ".jpeg", ".png", ".webp", ".pdf"}

func receiptsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "receipts",
		Short: "Manage receipts",
	}

	importCmd := &cobra.Command{
		Use:   "import <dir>",
		Short: "Import a directory of receipt images",
		Long: `OCR and structure every receipt image in a directory and store it for a
user. Useful for back-filling purchase history before the first prediction.
Files already imported for the user are skipped, so an interrupted import can
simply be run again.`,
		Args: cobra.ExactArgs(1),
		RunE: runReceiptsImport,
	}
	importCmd.Flags().StringP("user", "u", "", "WhatsApp user ID the receipts belong to")
	_ = importCmd.MarkFlagRequired("user")
	cmd.AddCommand(importCmd)

	return cmd
}

// importStats counts what happened to each file.
type importStats struct {
	failures map[string]error
	imported int
	skipped  int
	items    int
}

func runReceiptsImport(cmd *cobra.Command, args []string) error {
	userID, _ := cmd.Flags().GetString("user")
	out := cmd.OutOrStdout()

	files, err := receiptFiles(args[0])
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(out, cli.FormatWarning("No receipt images found in "+args[0]))
		return nil
	}

	interrupts := cli.NewInterruptHandler(out, "Import", "Imported receipts are saved. Run the same command again to continue.")
	ctx, stop := interrupts.HandleInterrupts(cmd.Context())
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	processor, err := a.receipts(ctx, nil, nil)
	if err != nil {
		return err
	}

	stats := importReceipts(ctx, processor, userID, files, cli.NewProgress(out, len(files), cli.ReceiptIcon+" Importing receipts..."))

	fmt.Fprintln(out, cli.FormatSuccess(fmt.Sprintf("Imported %d receipts (%d items), skipped %d already imported",
		stats.imported, stats.items, stats.skipped)))
	if len(stats.failures) > 0 {
		names := make([]string, 0, len(stats.failures))
		for name := range stats.failures {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintln(out, cli.FormatError(fmt.Sprintf("%s: %v", name, stats.failures[name])))
		}
		return fmt.Errorf("%d of %d receipts failed", len(stats.failures), len(files))
	}
	if interrupts.WasInterrupted() {
		return ctx.Err()
	}
	return nil
}

// importer is the part of the receipt processor the import command uses.
type importer interface {
	Import(ctx context.Context, userID, name string, data []byte, mimeType string) (*receipt.Result, error)
}

// stepper is satisfied by *progressbar.ProgressBar.
type stepper interface {
	Add(num int) error
}

// importReceipts feeds files to the processor one at a time, stopping early if ctx
// is cancelled.
func importReceipts(ctx context.Context, imp importer, userID string, files []string, progress stepper) importStats {
	stats := importStats{failures: map[string]error{}}

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}
		name := filepath.Base(path)

		data, err := os.ReadFile(path)
		if err != nil {
			stats.failures[name] = err
			_ = progress.Add(1)
			continue
		}

		res, err := imp.Import(ctx, userID, name, data, mimeType(path))
		switch {
		case errors.Is(err, common.ErrDuplicateEntry):
			stats.skipped++
		case err != nil:
			stats.failures[name] = err
			slog.Debug("receipt import failed", "file", name, "error", err)
		default:
			stats.imported++
			stats.items += res.Items
		}
		_ = progress.Add(1)
	}
	return stats
}

// receiptFiles lists importable images in dir, sorted by name.
func receiptFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slices.Contains(importExtensions, strings.ToLower(filepath.Ext(e.Name()))) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func mimeType(path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); t != "" {
		return t
	}
	return "application/octet-stream"
}
