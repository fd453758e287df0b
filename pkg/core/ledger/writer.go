package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

const defaultMaxAttempts = 3

// Writer appends rows to a Store, retrying with exponential backoff. When
// every attempt fails the row is saved to a local fallback file so it can
// be replayed later.
type Writer struct {
	store       Store
	logger      *slog.Logger
	fallbackDir string
	maxAttempts int
	backoff     func(attempt int) time.Duration
}

// NewWriter wraps store with retry and fallback behavior. Fallback files
// are written under fallbackDir, which is created on first use.
func NewWriter(store Store, fallbackDir string, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		store:       store,
		logger:      logger,
		fallbackDir: fallbackDir,
		maxAttempts: defaultMaxAttempts,
		backoff: func(attempt int) time.Duration {
			return time.Duration(1<<attempt) * time.Second
		},
	}
}

// Write appends the row, retrying on failure. On exhaustion the row is
// saved to a fallback file and the last backend error is returned.
func (w *Writer) Write(ctx context.Context, row Row) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.store.Append(ctx, row)
		if err == nil {
			w.logger.Info("call result recorded",
				"backend", w.store.Name(),
				"call_id", row.CallID,
				"status", row.Status,
				"disposition", row.Disposition)
			return nil
		}
		lastErr = err
		w.logger.Error("ledger append failed",
			"backend", w.store.Name(),
			"call_id", row.CallID,
			"attempt", attempt,
			"max_attempts", w.maxAttempts,
			"error", err)

		if attempt < w.maxAttempts {
			if err := w.wait(ctx, w.backoff(attempt)); err != nil {
				lastErr = err
				break
			}
		}
	}

	if path, err := w.saveFallback(row); err != nil {
		w.logger.Error("fallback write failed", "call_id", row.CallID, "error", err)
	} else {
		w.logger.Warn("call result saved to fallback file", "call_id", row.CallID, "path", path)
	}
	return fmt.Errorf("ledger: append failed after %d attempts: %w", w.maxAttempts, lastErr)
}

func (w *Writer) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) saveFallback(row Row) (string, error) {
	if w.fallbackDir == "" {
		return "", fmt.Errorf("no fallback dir configured")
	}
	if err := os.MkdirAll(w.fallbackDir, 0o755); err != nil {
		return "", fmt.Errorf("create fallback dir: %w", err)
	}

	name := fmt.Sprintf("call_%s_%s.json", row.CallID, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(w.fallbackDir, name)

	data, err := json.MarshalIndent(row, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal row: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write fallback file: %w", err)
	}
	return path, nil
}
