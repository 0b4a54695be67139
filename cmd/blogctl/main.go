package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx := context.Background()

	// Initialize context that cancelled on SIGTERM
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		<-stop
		slog.Warn("Interrupt signal")
		cancel()
	}()

	if err := run(ctx, os.Getenv, os.Getwd, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

func run(
	ctx context.Context,
	getenv func(string) string,
	getwd func() (string, error),
	args []string,
	stdout io.Writer,
	stderr io.Writer,
) error {
	c := NewConfig()

	if err := c.LoadDotEnv(getwd); err != nil {
		return fmt.Errorf("error while loading .env: %w", err)
	}
	c.LoadEnv(getenv)
	if err := c.ParseFlags(args); err != nil {
		return fmt.Errorf("error while parsing flags: %w", err)
	}

	if len(c.Command) == 0 {
		_, _ = fmt.Fprint(stderr, usage())
		return fmt.Errorf("command required")
	}

	name, cmdArgs := c.Command[0], c.Command[1:]
	cmd, ok := commands[name]
	if !ok {
		_, _ = fmt.Fprint(stderr, usage())
		return fmt.Errorf("unknown command %q", name)
	}

	if cmd.standalone != nil {
		return cmd.standalone(stdout, cmdArgs)
	}

	app, err := NewApp(ctx, c, name, stdout, stderr)
	if err != nil {
		return fmt.Errorf("can't initialize app, sorry: %w", err)
	}
	defer app.Close() // nolint:errcheck

	return cmd.run(ctx, app, cmdArgs)
}
