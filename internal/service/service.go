// Package service wires the Store, WS Listener, HTTP API Router, and
// transport Server together into the running process, the way the
// teacher's cmd/sentinel-gate/cmd.run orchestrates its own boot sequence
// (BOOT-01 through BOOT-09).
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/rhymu8354/alfred/internal/adapter/inbound/httpapi"
	"github.com/rhymu8354/alfred/internal/adapter/inbound/transport"
	"github.com/rhymu8354/alfred/internal/adapter/inbound/wslistener"
	"github.com/rhymu8354/alfred/internal/adapter/outbound/statefile"
	"github.com/rhymu8354/alfred/internal/adapter/outbound/twitch"
	"github.com/rhymu8354/alfred/internal/config"
	"github.com/rhymu8354/alfred/internal/domain/clock"
	"github.com/rhymu8354/alfred/internal/domain/store"
	"github.com/rhymu8354/alfred/internal/logging"
)

// Options gathers the setup parameters the CLI resolves from flags and
// passes down to Run.
type Options struct {
	StorePath string
	Daemon    bool
	Logger    *slog.Logger
}

// storeAvailability adapts *store.Store to httpapi.StoreUnavailable: the
// router answers 503 once the Store has been demobilized (spec §4.5).
type storeAvailability struct{ store *store.Store }

func (a storeAvailability) Unavailable() bool { return !a.store.Mobilized() }

// Run executes the full boot sequence and blocks until ctx is cancelled,
// at which point it demobilizes the Store and shuts the server down.
// Setup failures (bad store file, bad configuration) are returned before
// anything is started, per spec §6 and §7's Setup error kind.
func Run(ctx context.Context, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	persister := statefile.New(opts.StorePath, logger)
	rawTree, err := persister.Load()
	if err != nil {
		return fmt.Errorf("load store file: %w", err)
	}
	if err := persister.Save(rawTree); err != nil {
		return fmt.Errorf("save initial store file: %w", err)
	}

	cfg, err := config.Decode(rawTree)
	if err != nil {
		return fmt.Errorf("decode configuration: %w", err)
	}

	clk := clock.New()
	st := store.New(persister, loggerFor(logger, cfg, "store"))
	if !st.Mobilize(clk) {
		return fmt.Errorf("mobilize store: load failed, see log")
	}
	defer st.Demobilize()

	oauth := twitch.New(twitch.WithTimeout(requestTimeout(cfg.RequestTimeoutSeconds)))

	serverOpts := []transport.Option{
		transport.WithAddr(fmt.Sprintf(":%d", cfg.Http.Port)),
		transport.WithLogger(loggerFor(logger, cfg, "transport")),
	}
	if cfg.SslCertificate != "" && cfg.SslKey != "" {
		serverOpts = append(serverOpts, transport.WithTLS(cfg.SslCertificate, cfg.SslKey))
	}
	srv := transport.New(serverOpts...)
	metrics := srv.Metrics()

	st.OnSave(func(d time.Duration, err error) {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		metrics.SavesTotal.WithLabelValues(outcome).Inc()
		metrics.SaveDuration.Observe(d.Seconds())
	})

	listener := wslistener.New(
		clk,
		wslistener.Config{
			MaxFrameSize:          int64(cfg.WebSocketMaxFrameSize),
			AuthenticationTimeout: seconds(cfg.WebSocketAuthenticationTimeout),
			CloseLinger:           seconds(cfg.WebSocketCloseLinger),
		},
		st,
		oauth,
		loggerFor(logger, cfg, "wslistener"),
		func() { metrics.ActiveSessions.Inc() },
		func() { metrics.ActiveSessions.Dec() },
	)
	defer listener.DemobilizeAll()
	listener.OnAuthOutcome(func(outcome string) {
		metrics.WSAuthTotal.WithLabelValues(outcome).Inc()
	})

	router := httpapi.New(storeAvailability{store: st})
	httpapi.RegisterDataResource(router, st, httpapi.WithProjectionObserver(func(d time.Duration) {
		metrics.ProjectionDuration.Observe(d.Seconds())
	}))

	go pollSubscriberCount(ctx, st, metrics)

	transport.WithAPIHandler(router)(srv)
	transport.WithWSHandler(listener)(srv)
	transport.WithHealthChecker(transport.NewHealthChecker(st, listener))(srv)

	logger.Info("alfred starting", "store", opts.StorePath, "port", cfg.Http.Port, "daemon", opts.Daemon)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	logger.Info("alfred stopped")
	return nil
}

// pollSubscriberCount samples the Store's subscription registry into the
// alfred_active_subscriptions gauge. The Store has no subscribe/cancel
// callback pair to hook synchronously (unlike OnSave), so polling is the
// simplest way to keep the gauge current.
func pollSubscriberCount(ctx context.Context, st *store.Store, metrics *transport.Metrics) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.ActiveSubscriptions.Set(float64(st.SubscriberCount()))
		}
	}
}

func loggerFor(base *slog.Logger, cfg *config.Configuration, component string) *slog.Logger {
	if h, ok := base.Handler().(*logging.Handler); ok {
		return logging.NewComponentLogger(h, cfg.DiagnosticReportingThresholds, component, slog.LevelInfo)
	}
	return base.With("component", component)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func requestTimeout(s float64) time.Duration {
	if s <= 0 {
		return 10 * time.Second
	}
	return seconds(s)
}
