package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/fleet-tracker/internal/config"
	"github.com/example/fleet-tracker/internal/liveclient"
	"github.com/example/fleet-tracker/internal/logging"
	"github.com/example/fleet-tracker/internal/mapview"
)

// viewer is a terminal map session: one engine, one live connection and one
// REST client, torn down together when the session ends.
func main() {
	cfg, err := config.LoadViewerConfig()
	logger := logging.New(os.Stderr, cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	conn, err := liveclient.NewConn(cfg.ServerURL, logger)
	if err != nil {
		logger.Error("live connection", "error", err)
		os.Exit(1)
	}
	api := liveclient.NewAPI(cfg.ServerURL, cfg.Timeout)
	out := &printer{w: os.Stdout}
	engine := mapview.New(mapview.Config{
		Routes:    api,
		History:   api,
		Feed:      conn,
		SelfID:    cfg.DeviceID,
		NoticeTTL: cfg.NoticeTTL,
		OnChange:  out.onChange,
		Logger:    logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	done := make(chan error, 1)
	go func() { done <- engine.Run(ctx) }()

	fmt.Fprintf(os.Stdout, "connected to %s; type help for commands\n", cfg.ServerURL)
	go func() {
		readCommands(ctx, os.Stdin, engine, os.Stdout, time.Now)
		stop()
	}()

	<-done
}

func readCommands(ctx context.Context, in io.Reader, e *mapview.Engine, w io.Writer, now func() time.Time) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		cmd, err := parseCommand(sc.Text())
		if err != nil {
			fmt.Fprintln(w, err)
			continue
		}
		if cmd.kind == cmdQuit {
			return
		}
		apply(cmd, e, w, now)
	}
}

func apply(c command, e *mapview.Engine, w io.Writer, now func() time.Time) {
	switch c.kind {
	case cmdHelp:
		fmt.Fprint(w, helpText)
	case cmdList:
		fmt.Fprint(w, renderDevices(e.View(), now()))
	case cmdShow:
		fmt.Fprint(w, renderView(e.View()))
	case cmdSelect:
		e.Select(c.id)
	case cmdNav:
		e.Navigate(c.id)
	case cmdHistory:
		e.ShowHistory(c.id, c.day)
	case cmdDeselect:
		e.Deselect()
	case cmdReset:
		e.Reset()
	case cmdCenter:
		e.CenterOnSelf()
	case cmdMe:
		e.SetSelf(c.coord)
	}
}
