// Package gateway wires the session supervisor, inbound router, delivery
// pipeline, resource governor and HTTP boundary into the main daemon.
package gateway

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/governor"
	"github.com/zulandar/switchboard/internal/hours"
	"github.com/zulandar/switchboard/internal/httpapi"
	"github.com/zulandar/switchboard/internal/pipeline"
	"github.com/zulandar/switchboard/internal/router"
	"github.com/zulandar/switchboard/internal/supervisor"
	"github.com/zulandar/switchboard/internal/transport"
)

// Daemon is the main gateway process. It connects to a chat platform via
// an Adapter, pumps inbound events to the supervisor and router, and
// serves the outbound HTTP boundary.
type Daemon struct {
	db      *gorm.DB
	cfg     *config.Config
	adapter transport.Adapter
	logger  *zap.Logger
	out     io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	DB      *gorm.DB
	Config  *config.Config
	Adapter transport.Adapter
	Logger  *zap.Logger
	Out     io.Writer // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("gateway: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("gateway: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("gateway: adapter is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	return &Daemon{
		db:      opts.DB,
		cfg:     opts.Config,
		adapter: opts.Adapter,
		logger:  opts.Logger,
		out:     out,
	}, nil
}

// Run starts the gateway. It connects the adapter, builds all subsystems
// and blocks until the context is cancelled. The initial connect failure
// is fatal and returned; later disconnects are handled by the supervisor.
func (d *Daemon) Run(ctx context.Context) error {
	window := hours.Window{
		StartHour: d.cfg.Hours.StartHour,
		EndHour:   d.cfg.Hours.EndHour,
	}

	rules, err := router.CompileRules(d.cfg.Rules)
	if err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	rt, err := router.New(router.RouterOpts{
		Adapter: d.adapter,
		Rules:   rules,
		Window:  window,
		DB:      d.db,
		Logger:  d.logger,
	})
	if err != nil {
		return fmt.Errorf("gateway: build router: %w", err)
	}

	sup, err := supervisor.New(supervisor.Opts{
		Adapter:       d.adapter,
		Logger:        d.logger,
		CancelPending: rt.CancelPending,
	})
	if err != nil {
		return fmt.Errorf("gateway: build supervisor: %w", err)
	}

	pipe, err := pipeline.New(pipeline.Opts{
		Adapter:   d.adapter,
		DB:        d.db,
		Logger:    d.logger,
		Auth:      d.cfg.HTTP.Auth,
		CacheSize: d.cfg.Resources.RegistrationLRU,
	})
	if err != nil {
		return fmt.Errorf("gateway: build pipeline: %w", err)
	}

	srv, err := httpapi.New(httpapi.Opts{
		DB:       d.db,
		Pipeline: pipe,
		Status:   sup.Status,
		Adapter:  d.adapter,
		Digest:   d.cfg.Digest,
		Logger:   d.logger,
		LogPath:  d.cfg.Log.File,
		Port:     d.cfg.HTTP.Port,
		Out:      d.out,
	})
	if err != nil {
		return fmt.Errorf("gateway: build http server: %w", err)
	}

	gov, err := governor.New(governor.Opts{
		Logger:        d.logger,
		Interval:      time.Duration(d.cfg.Resources.SampleIntervalMS) * time.Millisecond,
		MemoryLimitMB: d.cfg.Resources.MemoryLimitMB,
		CPULoadLimit:  d.cfg.Resources.CPULoadLimit,
	})
	if err != nil {
		return fmt.Errorf("gateway: build governor: %w", err)
	}

	fmt.Fprintf(d.out, "Switchboard connecting...\n")
	if err := sup.Initialize(ctx); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("gateway: listen: %w", err)
	}

	go gov.Run(ctx)
	go func() {
		if err := srv.Run(ctx); err != nil {
			d.logger.Error("http server", zap.Error(err))
		}
	}()

	fmt.Fprintf(d.out, "Switchboard online\n")

	// Main event loop: events are handled one at a time in arrival order.
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Switchboard shutting down...\n")
			if n := rt.CancelPending(); n > 0 {
				d.logger.Warn("dropped scheduled replies on shutdown", zap.Int("count", n))
			}
			if err := d.adapter.Close(); err != nil {
				d.logger.Error("close adapter", zap.Error(err))
			}
			fmt.Fprintf(d.out, "Switchboard stopped\n")
			return nil

		case evt, ok := <-inbound:
			if !ok {
				// Adapter closed the channel.
				fmt.Fprintf(d.out, "Switchboard inbound channel closed\n")
				return nil
			}
			d.handleEvent(ctx, sup, rt, evt)
		}
	}
}

// handleEvent routes one inbound event: lifecycle events go to the
// supervisor, conversational events to the router.
func (d *Daemon) handleEvent(ctx context.Context, sup *supervisor.Supervisor, rt *router.Router, evt transport.Event) {
	switch evt.Kind {
	case transport.EventMessage, transport.EventCall:
		rt.Handle(ctx, evt)
	default:
		sup.HandleEvent(ctx, evt)
	}
}
