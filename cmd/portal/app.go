package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/invitekit/contactsync/internal/checkpoint"
	"github.com/invitekit/contactsync/internal/config"
	"github.com/invitekit/contactsync/internal/connectivity"
	"github.com/invitekit/contactsync/internal/localstore"
	"github.com/invitekit/contactsync/internal/logging"
	"github.com/invitekit/contactsync/internal/notice"
	"github.com/invitekit/contactsync/internal/portal"
	"github.com/invitekit/contactsync/internal/remote"
	"github.com/invitekit/contactsync/internal/ui"
)

// app is the wired portal for one command invocation.
type app struct {
	cfg      *config.Config
	sink     *logging.Sink
	ownsSink bool
	store    *localstore.Store
	remote   remote.RecordService
	portal   *portal.Portal
}

type appOptions struct {
	notifier    notice.Notifier
	syncOnStart bool
	logQuiet    bool

	// cfg and sink are loaded and opened by openApp when nil
	cfg  *config.Config
	sink *logging.Sink
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(config.Options{
		ConfigFile: configFile,
		Flags:      cmd.Flags(),
	})
	if err != nil {
		return nil, wrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openApp loads config and wires the store, remote service, checkpoint,
// connectivity source and portal. The caller must Close it.
func openApp(ctx context.Context, cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg := opts.cfg
	if cfg == nil {
		var err error
		if cfg, err = loadConfig(cmd); err != nil {
			return nil, err
		}
	}

	sink := opts.sink
	ownsSink := sink == nil
	if ownsSink {
		// One-shot commands only log to the file, if configured; their
		// user-facing output is printed directly.
		sink = openSink(cfg, opts.logQuiet)
	}
	closeSink := func() {
		if ownsSink {
			_ = sink.Close()
		}
	}

	store, err := localstore.OpenSync(ctx, cfg.StorePath, localstore.Options{
		Logger: sink.Logger("store"),
	})
	if err != nil {
		closeSink()
		return nil, wrapExitError(ExitCommandError, "failed to open contact store", err)
	}

	svc, err := openRemote(cfg)
	if err != nil {
		_ = store.Close()
		closeSink()
		return nil, err
	}

	source, err := newSource(cfg, sink)
	if err != nil {
		_ = store.Close()
		closeSink()
		return nil, wrapExitError(ExitCommandError, "failed to configure connectivity", err)
	}

	notifier := opts.notifier
	if notifier == nil {
		notifier = notice.Discard
	}

	p, err := portal.New(portal.Config{
		Store:       store,
		Remote:      svc,
		Checkpoint:  checkpoint.NewFileStore(cfg.CheckpointPath),
		Source:      source,
		Notifier:    notifier,
		Logger:      sink.Logger("portal"),
		PushTimeout: cfg.Sync.PushTimeout,
		SyncOnStart: opts.syncOnStart,
	})
	if err != nil {
		_ = store.Close()
		closeSink()
		return nil, wrapExitError(ExitCommandError, "failed to create portal", err)
	}
	if err := p.Start(ctx); err != nil {
		_ = store.Close()
		closeSink()
		return nil, wrapExitError(ExitCommandError, "failed to start portal", err)
	}

	return &app{cfg: cfg, sink: sink, ownsSink: ownsSink, store: store, remote: svc, portal: p}, nil
}

func openSink(cfg *config.Config, quiet bool) *logging.Sink {
	return logging.Open(logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Quiet:      quiet,
	})
}

func openRemote(cfg *config.Config) (remote.RecordService, error) {
	svc, err := remote.NewFromDSN(cfg.Remote.DSN, cfg.Remote.Token)
	if err != nil {
		return nil, wrapExitError(ExitCommandError, "failed to configure remote service", err)
	}
	if client, ok := svc.(*remote.HTTPClient); ok {
		client.SetTimeout(cfg.Remote.Timeout)
	}
	return svc, nil
}

func newSource(cfg *config.Config, sink *logging.Sink) (connectivity.Source, error) {
	switch cfg.Connectivity.Mode {
	case config.ModeAlways:
		return connectivity.NewManualSource(true), nil
	case config.ModeNever:
		return connectivity.NewManualSource(false), nil
	case config.ModeFile:
		return connectivity.NewFileSource(cfg.Connectivity.File, sink.Logger("monitor")), nil
	case config.ModeProbe:
		probe := connectivity.DefaultProbeConfig(cfg.Connectivity.ProbeURL)
		probe.Interval = cfg.Connectivity.ProbeInterval
		probe.Logger = sink.Logger("monitor")
		return connectivity.NewProbeSource(probe), nil
	default:
		return nil, fmt.Errorf("unknown connectivity mode %q", cfg.Connectivity.Mode)
	}
}

// Close stops the portal and releases the store, remote and log file.
func (a *app) Close() {
	if err := a.portal.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if closer, ok := a.remote.(io.Closer); ok {
		_ = closer.Close()
	}
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
	}
	if a.ownsSink {
		_ = a.sink.Close()
	}
}

// printNotices shows notices on stderr the way the portal banner does.
func printNotices() notice.Notifier {
	return notice.Func(func(n notice.Notice) {
		if jsonOutput {
			return
		}
		fmt.Fprintf(os.Stderr, "%s %s\n", ui.RenderLevel(string(n.Level), levelSymbol(n.Level)), n.Message)
	})
}

func levelSymbol(level notice.Level) string {
	switch level {
	case notice.LevelSuccess:
		return "✓"
	case notice.LevelWarning:
		return "⚠"
	case notice.LevelError:
		return "✗"
	default:
		return "ℹ"
	}
}

func outputJSON(v any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return wrapExitError(ExitCommandError, "failed to encode JSON output", err)
	}
	return nil
}
