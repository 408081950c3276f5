package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshsymonds/the-pantry-must-flow/internal/common"
	"github.com/joshsymonds/the-pantry-must-flow/internal/receipt"
)

func TestRootCommands(t *testing.T) {
	want := []string{"serve", "migrate", "predict", "learn", "analytics", "receipts", "sessions", "version"}
	var got []string
	for _, c := range rootCmd.Commands() {
		got = append(got, c.Name())
	}
	assert.Subset(t, got, want)

	for _, path := range [][]string{{"learn", "trigger"}, {"learn", "summary"}, {"receipts", "import"}, {"sessions", "sweep"}} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	cmd := versionCmd()
	cmd.SetOut(&buf)
	cmd.Run(cmd, nil)
	assert.Equal(t, "pantry dev\n", buf.String())
}

func TestReceiptFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.JPG", "a.png", "notes.txt", "c.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.jpg"), 0o750))

	files, err := receiptFiles(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.png"),
		filepath.Join(dir, "b.JPG"),
		filepath.Join(dir, "c.pdf"),
	}, files)

	_, err = receiptFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}

func TestMimeType(t *testing.T) {
	assert.Equal(t, "image/png", mimeType("a.png"))
	assert.Equal(t, "image/jpeg", mimeType("b.JPG"))
	assert.Equal(t, "application/octet-stream", mimeType("receipt"))
}

type fakeImporter struct {
	results map[string]error
	names   []string
}

func (f *fakeImporter) Import(_ context.Context, _, name string, _ []byte, _ string) (*receipt.Result, error) {
	f.names = append(f.names, name)
	if err := f.results[name]; err != nil {
		return nil, err
	}
	return &receipt.Result{Items: 3}, nil
}

type countingStepper struct{ steps int }

func (c *countingStepper) Add(n int) error {
	c.steps += n
	return nil
}

func TestImportReceipts(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(name), 0o600))
		files = append(files, path)
	}
	files = append(files, filepath.Join(dir, "gone.jpg"))

	imp := &fakeImporter{results: map[string]error{
		"b.jpg": fmt.Errorf("failed to create receipt: %w", common.ErrDuplicateEntry),
		"c.jpg": errors.New("receipt ocr failed"),
	}}
	progress := &countingStepper{}

	stats := importReceipts(context.Background(), imp, "61400000001", files, progress)

	assert.Equal(t, 1, stats.imported)
	assert.Equal(t, 3, stats.items)
	assert.Equal(t, 1, stats.skipped)
	assert.Len(t, stats.failures, 2)
	assert.Contains(t, stats.failures, "c.jpg")
	assert.Contains(t, stats.failures, "gone.jpg")
	assert.Equal(t, 4, progress.steps)
}

func TestImportReceipts_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	imp := &fakeImporter{}
	stats := importReceipts(ctx, imp, "61400000001", []string{"a.jpg"}, &countingStepper{})
	assert.Empty(t, imp.names)
	assert.Zero(t, stats.imported)
}

func TestConsoleMessenger(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, consoleMessenger{w: &buf}.Send(context.Background(), "61400000001", "hello"))
	assert.Equal(t, "→ 61400000001\nhello\n\n", buf.String())
}

func TestErrorMessage(t *testing.T) {
	plain := fmt.Errorf("failed to open database: %w", errors.New("disk full"))
	assert.Equal(t, "failed to open database: disk full", errorMessage(plain))

	userErr := common.NewUserError("WhatsApp is not configured", common.ErrMissingConfig)
	wrapped := fmt.Errorf("serve: %w", userErr)
	msg := errorMessage(wrapped)
	assert.Contains(t, msg, "WhatsApp is not configured")
	assert.NotContains(t, msg, "missing configuration")
}
