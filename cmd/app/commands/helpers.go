// Package commands implements the CLI subcommands. Each Run* function takes
// its dependencies as arguments so it can be driven from tests.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/allisson/batchdonations/internal/app"
)

// Streams are the input and output of a command.
type Streams struct {
	Reader io.Reader
	Writer io.Writer
}

// StdStreams returns stdin and stdout.
func StdStreams() Streams {
	return Streams{Reader: os.Stdin, Writer: os.Stdout}
}

func closeContainer(container *app.Container, logger *slog.Logger) {
	if err := container.Shutdown(context.Background()); err != nil {
		logger.Error("failed to shutdown container", slog.Any("error", err))
	}
}

func parseBatchID(id string) (uuid.UUID, error) {
	batchID, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid batch ID format: %w", err)
	}
	return batchID, nil
}

func validateFormat(format string) error {
	if format == "text" || format == "json" {
		return nil
	}
	return fmt.Errorf("invalid format: %s (valid options: text, json)", format)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
