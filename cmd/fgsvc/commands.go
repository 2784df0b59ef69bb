package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/loykin/fgsvc/pkg/client"
)

const defaultAPIURL = "http://127.0.0.1:8080/api"

// command holds what the client subcommands share.
type command struct {
	out io.Writer
}

func (c command) client(f ClientFlags) (*client.Client, error) {
	url := f.APIUrl
	if url == "" {
		url = defaultAPIURL
	}
	cfg := client.Config{
		BaseURL:  url,
		Timeout:  f.APITimeout,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Insecure: f.Insecure,
	}
	if f.CACert != "" {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert}
	}
	return client.New(cfg)
}

func (c command) reachable(ctx context.Context, api *client.Client, f ClientFlags) error {
	if !api.IsReachable(ctx) {
		url := f.APIUrl
		if url == "" {
			url = defaultAPIURL
		}
		return fmt.Errorf("daemon not reachable at %s - please start daemon first with 'fgsvc serve'", url)
	}
	return nil
}

// Control sends start, stop or restart to the daemon.
func (c command) Control(ctx context.Context, action string, f ClientFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	api, err := c.client(f)
	if err != nil {
		return err
	}
	if err := c.reachable(ctx, api, f); err != nil {
		return err
	}
	switch action {
	case "start":
		err = api.Start(ctx)
	case "stop":
		err = api.Stop(ctx)
	case "restart":
		err = api.Restart(ctx)
	default:
		return fmt.Errorf("unknown action %q", action)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", action, err)
	}
	if action == "restart" {
		_, _ = fmt.Fprintln(c.out, "restart scheduled")
		return nil
	}
	_, _ = fmt.Fprintf(c.out, "%s ok\n", action)
	return nil
}

// Status prints "running" or "stopped", or the snapshot JSON with --detail.
func (c command) Status(ctx context.Context, f ClientFlags) error {
	if ctx == nil {
		ctx = context.Background()
	}
	api, err := c.client(f)
	if err != nil {
		return err
	}
	if err := c.reachable(ctx, api, f); err != nil {
		return err
	}
	if f.Detailed {
		st, err := api.Snapshot(ctx)
		if err != nil {
			return err
		}
		return printJSON(c.out, st)
	}
	running, err := api.Status(ctx)
	if err != nil {
		return err
	}
	if running {
		_, _ = fmt.Fprintln(c.out, "running")
	} else {
		_, _ = fmt.Fprintln(c.out, "stopped")
	}
	return nil
}

func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
