// Package daemon runs backups on a cron schedule for hosts without an
// external scheduler, and serves metrics and health endpoints while it does.
package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 5 * time.Second

// Config holds daemon configuration
type Config struct {
	Schedule    string              // standard 5-field cron expression or descriptor such as "@daily"
	MetricsAddr string              // empty disables the HTTP server
	Gatherer    prometheus.Gatherer // nil uses the default registry
}

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Daemon triggers Job on a schedule. Runs never overlap; a tick that fires
// while the previous run is still going is skipped.
type Daemon struct {
	schedule    string
	metricsAddr string
	gatherer    prometheus.Gatherer
	job         Job
	logger      zerolog.Logger
	metrics     *DaemonMetrics

	mu       sync.Mutex
	cron     *cron.Cron
	entry    cron.EntryID
	running  bool
	server   *http.Server
	listener net.Listener

	busy      atomic.Bool
	runCount  atomic.Int64
	startTime time.Time
}

// NewDaemon creates a new daemon instance
func NewDaemon(cfg Config, job Job, logger zerolog.Logger) (*Daemon, error) {
	if cfg.Schedule == "" {
		return nil, errors.New("daemon: schedule is required")
	}
	if _, err := cron.ParseStandard(cfg.Schedule); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", cfg.Schedule, err)
	}
	if job == nil {
		return nil, errors.New("daemon: job is required")
	}

	metrics, err := NewDaemonMetrics()
	if err != nil {
		return nil, fmt.Errorf("create daemon metrics: %w", err)
	}

	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	return &Daemon{
		schedule:    cfg.Schedule,
		metricsAddr: cfg.MetricsAddr,
		gatherer:    gatherer,
		job:         job,
		logger:      logger.With().Str("component", "daemon").Logger(),
		metrics:     metrics,
		cron:        cron.New(),
		startTime:   time.Now(),
	}, nil
}

// Start schedules the job and starts the HTTP server. It returns once both
// are running; cancelling ctx stops them.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return errors.New("daemon already started")
	}

	id, err := d.cron.AddFunc(d.schedule, func() {
		d.Trigger(ctx)
	})
	if err != nil {
		return fmt.Errorf("schedule backup job: %w", err)
	}
	d.entry = id

	if d.metricsAddr != "" {
		if err := d.serve(); err != nil {
			d.cron.Remove(id)
			return err
		}
	}

	d.cron.Start()
	d.running = true

	d.logger.Info().
		Str("schedule", d.schedule).
		Time("next_run", d.cron.Entry(id).Next).
		Msg("scheduler started")

	go func() {
		<-ctx.Done()
		d.Stop()
	}()

	return nil
}

// Run starts the daemon and blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	d.Stop()
	return nil
}

func (d *Daemon) serve() error {
	ln, err := net.Listen("tcp", d.metricsAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.metricsAddr, err)
	}
	d.listener = ln
	d.server = &http.Server{
		Handler:           d.handler(),
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		d.logger.Info().Str("addr", ln.Addr().String()).Msg("starting metrics server")
		if err := d.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.logger.Error().Err(err).Msg("metrics server error")
		}
	}()
	return nil
}

func (d *Daemon) handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(d.gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(d.Health())
	})
	mux.HandleFunc("/-/healthy", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/-/ready", func(w http.ResponseWriter, _ *http.Request) {
		if !d.IsRunning() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// Stop stops the scheduler, waits for a running job and shuts the server down.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return
	}

	stopped := d.cron.Stop()
	<-stopped.Done()

	if d.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("metrics server shutdown")
		}
	}

	d.running = false
	d.logger.Info().Int64("runs", d.runCount.Load()).Msg("scheduler stopped")
}

// Trigger runs the job now. It returns false without running when a run is
// already in progress.
func (d *Daemon) Trigger(ctx context.Context) bool {
	if !d.busy.CompareAndSwap(false, true) {
		d.metrics.RecordSkipped(ctx)
		d.logger.Warn().Msg("previous backup run still in progress, skipping")
		return false
	}
	defer d.busy.Store(false)

	d.runCount.Add(1)
	start := time.Now()

	status := "success"
	if err := d.job(ctx); err != nil {
		status = "failure"
		d.logger.Error().Err(err).Msg("scheduled backup run failed")
	} else {
		d.metrics.RecordSuccess(ctx, time.Now().Unix())
	}

	d.metrics.RecordRun(ctx, status, time.Since(start).Seconds())
	return true
}

// IsRunning returns true if the scheduler is running.
func (d *Daemon) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

// NextRun returns the next scheduled run, or nil when not started.
func (d *Daemon) NextRun() *time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	next := d.cron.Entry(d.entry).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// MetricsAddr returns the address the HTTP server listens on, empty if none.
func (d *Daemon) MetricsAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	h := HealthStatus{
		Status: "healthy",
		Uptime: int64(time.Since(d.startTime).Seconds()),
		Runs:   d.runCount.Load(),
		Busy:   d.busy.Load(),
	}
	if next := d.NextRun(); next != nil {
		h.NextRun = next
	}
	return h
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status  string     `json:"status"`
	Uptime  int64      `json:"uptime_seconds"`
	Runs    int64      `json:"runs"`
	Busy    bool       `json:"busy"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// RunCount returns total runs started
func (d *Daemon) RunCount() int64 {
	return d.runCount.Load()
}
