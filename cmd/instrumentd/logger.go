package main

import (
	"log/slog"
	"os"

	"github.com/nereid-labs/instrumentd/internal/logging"
)

func setupLogger(verbose bool) *slog.Logger {
	lvl := slog.LevelInfo
	if verbose {
		lvl = slog.LevelDebug
	}
	l := logging.New("text", lvl, os.Stderr).With("app", "instrumentd")
	logging.Set(l)
	return l
}
