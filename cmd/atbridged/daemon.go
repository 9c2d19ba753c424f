package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"atbridge/internal/a11y"
	"atbridge/internal/bridge"
	"atbridge/internal/config"
	"atbridge/internal/input"
	"atbridge/internal/ipc"
	"atbridge/internal/logging"
	"atbridge/internal/metrics"
)

// daemon owns the manager and its outer surfaces: the control socket and
// the optional metrics endpoint.
type daemon struct {
	cfg     *config.Config
	log     *logging.Logger
	manager *bridge.Manager
	metrics *metrics.Bridge
	server  *ipc.Server
	http    *http.Server
	httpLn  net.Listener

	mu      sync.Mutex
	publish func()
}

func newDaemon(cfg *config.Config, svc a11y.Service, src input.Source, log *logging.Logger) *daemon {
	mb := metrics.NewBridge(metrics.NewRegistry("atbridge"))
	return &daemon{
		cfg:     cfg,
		log:     log,
		metrics: mb,
		manager: bridge.New(svc, src, bridge.WithLogger(log), bridge.WithMetrics(mb)),
	}
}

// start brings the bridge up. Capture failing to start is logged and the
// daemon keeps serving accessibility queries.
func (d *daemon) start(ctx context.Context, capture bool) error {
	if err := d.manager.Initialize(ctx, d.cfg); err != nil {
		return err
	}

	if d.cfg.IPC.Enabled {
		if err := d.startIPC(); err != nil {
			_ = d.manager.Cleanup()
			return err
		}
	}
	if d.cfg.Metrics.Enabled {
		if err := d.startHTTP(); err != nil {
			d.stopIPC()
			_ = d.manager.Cleanup()
			return err
		}
	}

	if capture && d.cfg.Capture.Enabled {
		d.startCapture(ctx)
	}
	return nil
}

func (d *daemon) startIPC() error {
	perm, err := strconv.ParseUint(d.cfg.IPC.Permissions, 8, 32)
	if err != nil {
		return fmt.Errorf("ipc permissions %q: %w", d.cfg.IPC.Permissions, err)
	}
	scfg := ipc.DefaultServerConfig(d.cfg.IPC.SocketPath)
	scfg.Version = Version
	scfg.Permissions = os.FileMode(perm) & os.ModePerm
	scfg.MaxConnections = d.cfg.IPC.MaxConnections
	if d.cfg.IPC.TimeoutSec > 0 {
		scfg.WriteTimeout = time.Duration(d.cfg.IPC.TimeoutSec) * time.Second
	}
	scfg.Logger = d.log
	scfg.Observer = d.metrics

	srv := ipc.NewServer(scfg, ipc.NewRequestHandler(d.manager, d.log))
	if err := srv.Start(); err != nil {
		return err
	}
	d.mu.Lock()
	d.server = srv
	d.publish = ipc.Publish(d.manager, srv)
	d.mu.Unlock()
	return nil
}

func (d *daemon) stopIPC() {
	d.mu.Lock()
	srv, stop := d.server, d.publish
	d.server, d.publish = nil, nil
	d.mu.Unlock()

	if stop != nil {
		stop()
	}
	if srv != nil {
		if err := srv.Stop(); err != nil {
			d.log.Warn("control socket shutdown failed", "error", err)
		}
	}
}

func (d *daemon) startHTTP() error {
	ln, err := net.Listen("tcp", d.cfg.Metrics.Listen)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", d.metrics.Registry().HTTPHandler())
	d.manager.Checker().Mux(mux)

	d.httpLn = ln
	d.http = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := d.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			d.log.Error("metrics server failed", "error", err)
		}
	}()
	d.log.Info("metrics listening", "addr", ln.Addr().String())
	return nil
}

func (d *daemon) startCapture(ctx context.Context) {
	if err := d.manager.StartCapture(ctx); err != nil {
		d.log.Warn("keyboard capture not started", "error", err)
		return
	}
	d.broadcastCapture()
}

func (d *daemon) stopCapture() {
	if err := d.manager.StopCapture(); err != nil {
		d.log.Warn("keyboard capture stop incomplete", "error", err)
	}
	d.broadcastCapture()
}

func (d *daemon) broadcastCapture() {
	d.mu.Lock()
	srv := d.server
	d.mu.Unlock()
	if srv == nil {
		return
	}
	st := d.manager.Status().Capture
	srv.Broadcast(ipc.CaptureStateEvent(st.Running, st.Workers))
}

// reconfigure applies a reloaded configuration. Socket and metrics
// settings take effect on restart.
func (d *daemon) reconfigure(ctx context.Context, old, next *config.Config) {
	if err := d.manager.ApplyConfig(next); err != nil {
		d.log.Warn("configuration not applied", "error", err)
		return
	}
	d.log.Info("configuration reloaded")

	switch {
	case next.Capture.Enabled && !d.manager.Capturing():
		d.startCapture(ctx)
	case !next.Capture.Enabled && d.manager.Capturing():
		d.stopCapture()
	}
	if old.IPC != next.IPC || old.Metrics != next.Metrics {
		d.log.Info("socket and metrics changes apply after restart")
	}
}

// stop shuts everything down in reverse order.
func (d *daemon) stop() error {
	d.stopIPC()
	var errs []error
	if d.http != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := d.http.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if err := d.manager.Cleanup(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
