package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel(os.Getenv("EVAL_LOG_LEVEL"))}))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code := execute(ctx, logger, os.Args[1:])
	stop()
	if code != 0 {
		os.Exit(code)
	}
}

// execute runs the command line and logs any failure, including flag and
// argument errors cobra raises before a command runs.
func execute(ctx context.Context, logger *slog.Logger, args []string) int {
	cmd := newRootCmd(logger)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	logger.ErrorContext(ctx, "evaluation failed", "error", err, "exit_code", exitCode(err))
	return exitCode(err)
}

// configError marks failures caused by invalid configuration rather than a
// runtime fault; they exit 2.
type configError struct {
	err error
}

func (e *configError) Error() string { return e.err.Error() }

func (e *configError) Unwrap() error { return e.err }

func invalidConfig(err error) error {
	if err == nil {
		return nil
	}
	return &configError{err: err}
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var cfgErr *configError
	if errors.As(err, &cfgErr) {
		return 2
	}
	return 1
}

func logLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
