package main

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/marco308/ticktick-bridge/internal/auth"
	"github.com/marco308/ticktick-bridge/internal/bus"
	"github.com/marco308/ticktick-bridge/internal/config"
	"github.com/marco308/ticktick-bridge/internal/forwarder"
	"github.com/marco308/ticktick-bridge/internal/journal"
	"github.com/marco308/ticktick-bridge/internal/poller"
	"github.com/marco308/ticktick-bridge/internal/server"
	"github.com/marco308/ticktick-bridge/internal/snapshot"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge daemon",
	Long: `Run the polling daemon.

Polls TickTick on the configured interval, publishes diff events over
the WebSocket bus at /ws and serves the command and status API on the
configured listen address. Edits to the config file retune the poll
interval and due-soon window without a restart.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, cfgPath, err := loadConfig()
		if err != nil {
			fatalf("%v", err)
		}
		if err := runServe(cfg, cfgPath); err != nil {
			fatalf("%v", err)
		}
	},
}

func runServe(cfg *config.Config, cfgPath string) error {
	logger := serveLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := newClient(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, auth.ErrNoToken) {
			return errors.New("not authorized, run 'tickbridge auth login' first")
		}
		return err
	}

	broadcaster := bus.NewBroadcaster(logger)

	var store *journal.Journal
	if cfg.JournalPath != "" {
		store, err = journal.Open(cfg.JournalPath, logger)
		if err != nil {
			return err
		}
		defer store.Close()
	}

	reporter := &pollReporter{bus: broadcaster}

	sinks := []bus.Sink{broadcaster, reporter}
	if store != nil {
		sinks = append(sinks, store)
	}

	p := poller.New(poller.NewFetcher(client, logger), bus.Multi(sinks...), &poller.Config{
		Interval:      cfg.PollInterval(),
		DueSoonWindow: cfg.DueSoonWindow(),
		Logger:        logger,
	})
	p.AddObserver(reporter)

	fwd := forwarder.New(client, p, p, logger)

	var history server.EventHistory
	if store != nil {
		history = store
	}
	srv := server.New(server.Config{
		Addr:             cfg.ListenAddr,
		IncludeCompleted: cfg.IncludeCompleted,
		Logger:           logger,
	}, fwd, p, history, broadcaster.Handler())

	var wg sync.WaitGroup
	errCh := make(chan error, 3)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := broadcaster.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := srv.Run(ctx); err != nil {
			errCh <- err
		}
	}()

	// Config hot reload: retune the poller in place.
	wg.Add(1)
	go func() {
		defer wg.Done()
		err := config.Watch(ctx, cfgPath, func(next *config.Config) {
			logger.Printf("Config reloaded: poll interval %s, due-soon window %s",
				next.PollInterval(), next.DueSoonWindow())
			p.SetInterval(next.PollInterval())
			p.SetDueSoonWindow(next.DueSoonWindow())
		})
		if err != nil && ctx.Err() == nil {
			logger.Printf("Config watch stopped: %v", err)
		}
	}()

	logger.Printf("tickbridge %s started, polling every %s", version, cfg.PollInterval())

	var runErr error
	select {
	case runErr = <-errCh:
		stop()
	case <-ctx.Done():
	}
	wg.Wait()
	return runErr
}

// serveLogger writes to stderr, or to a rotated log file when configured.
func serveLogger(cfg *config.Config) *log.Logger {
	var out io.Writer = os.Stderr
	if cfg.LogFile != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
	}
	return log.New(out, "[tickbridge] ", log.LstdFlags)
}

// pollReporter counts the events of each cycle and announces the cycle on
// the bus once the new snapshot lands.
type pollReporter struct {
	bus *bus.Broadcaster

	mu     sync.Mutex
	events int
}

func (r *pollReporter) Publish(ev snapshot.Event) {
	r.mu.Lock()
	r.events++
	r.mu.Unlock()
}

func (r *pollReporter) OnSnapshot(s *snapshot.Snapshot) {
	r.mu.Lock()
	n := r.events
	r.events = 0
	r.mu.Unlock()

	r.bus.PollComplete(bus.PollCompleteData{
		Projects: len(s.Projects),
		Tasks:    len(s.Tasks()),
		Events:   n,
		Duration: time.Since(s.Taken).Round(time.Millisecond),
	})
}
