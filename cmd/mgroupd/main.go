// mgroupd -- multicast group-membership router daemon (IGMPv1/v2/v3,
// MLDv1/v2).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	sdnotify "github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/mgroupd/mgroupd/internal/config"
	"github.com/mgroupd/mgroupd/internal/ctlproto"
	"github.com/mgroupd/mgroupd/internal/fea"
	"github.com/mgroupd/mgroupd/internal/ifmirror"
	"github.com/mgroupd/mgroupd/internal/metrics"
	"github.com/mgroupd/mgroupd/internal/mgroup"
	"github.com/mgroupd/mgroupd/internal/rpcqueue"
)

// shutdownTimeout bounds how long graceful shutdown waits for the
// metrics and control-socket listeners to drain.
const shutdownTimeout = 10 * time.Second

const (
	ipProtoIGMP   = 2  // IPPROTO_IGMP
	ipProtoICMPv6 = 58 // IPPROTO_ICMPV6
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()))
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("mgroupd starting",
		slog.String("metrics_addr", cfg.Metrics.Addr),
		slog.String("control_socket", cfg.Admin.SocketPath),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	d := newDaemon(cfg, reg, collector, logger)
	defer d.close()

	if err := d.run(*configPath, logLevel); err != nil {
		logger.Error("mgroupd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("mgroupd stopped")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

// daemon wires the two per-family mgroup.Node instances, the shared
// FEA/Finder collaborator, the Q-primary/Q-notify rpcqueue queues, the
// interface mirror, and the administrative/metrics listeners into one
// runnable process.
type daemon struct {
	cfg       *config.Config
	reg       *prometheus.Registry
	collector *metrics.Collector
	logger    *slog.Logger

	nodeV4 *mgroup.Node
	nodeV6 *mgroup.Node

	rawFEA *fea.RawSocketFEA
	finder *fea.StaticFinder
	client *collaboratorClient

	primaryQueue *rpcqueue.Queue
	notifyQueue  *rpcqueue.Queue
	notifyClient *loggingNotifyClient
	notifySub    *notifySubscriber

	mirror *ifmirror.Mirror

	readyMu    sync.Mutex
	readyCount int

	receiversV4  map[string]bool
	receiversV6  map[string]bool
	subscribedV4 map[uint32]bool
	subscribedV6 map[uint32]bool
}

func newDaemon(cfg *config.Config, reg *prometheus.Registry, collector *metrics.Collector, logger *slog.Logger) *daemon {
	return &daemon{
		cfg:          cfg,
		reg:          reg,
		collector:    collector,
		logger:       logger,
		nodeV4:       mgroup.NewNode(mgroup.FamilyV4),
		nodeV6:       mgroup.NewNode(mgroup.FamilyV6),
		finder:       fea.NewStaticFinder(),
		primaryQueue: rpcqueue.NewQueue("primary", logger),
		notifyQueue:  rpcqueue.NewQueue("notify", logger),
		receiversV4:  make(map[string]bool),
		receiversV6:  make(map[string]bool),
		subscribedV4: make(map[uint32]bool),
		subscribedV6: make(map[uint32]bool),
	}
}

func (d *daemon) close() {
	if d.rawFEA != nil {
		if err := d.rawFEA.Close(); err != nil {
			d.logger.Warn("close FEA sockets failed", slog.String("error", err.Error()))
		}
	}
	if d.mirror != nil {
		d.mirror.Disconnect()
	}
}

func (d *daemon) run(configPath string, logLevel *slog.LevelVar) error {
	rawFEA, err := fea.NewRawSocketFEA(d.logger)
	if err != nil {
		return fmt.Errorf("open raw sockets: %w", err)
	}
	d.rawFEA = rawFEA
	d.notifyClient = newLoggingNotifyClient(d.logger)
	d.notifySub = newNotifySubscriber(d.notifyClient, d.notifyQueue)

	d.client = newCollaboratorClient(rawFEA, rawFEA, d.finder)
	d.wireQueues()
	d.wireNodes(d.client)

	mirror, err := ifmirror.NewMirror(d.logger)
	if err != nil {
		return fmt.Errorf("build interface mirror: %w", err)
	}
	d.mirror = mirror

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	if d.cfg.IfMirror.Endpoint != "" {
		d.nodeV4.IncrStartupRequests()
		d.nodeV6.IncrStartupRequests()
		mirror.OnTreeComplete(func() {
			d.nodeV4.SetInterfaceMirrorReady()
			d.nodeV6.SetInterfaceMirrorReady()
			d.nodeV4.DecrStartupRequests()
			d.nodeV6.DecrStartupRequests()
		})
		mirror.OnUpdate(func(snapshot map[string]ifmirror.InterfaceState) {
			d.logger.Debug("interface mirror update", slog.Int("count", len(snapshot)))
		})
		endpoint := d.cfg.IfMirror.Endpoint
		g.Go(func() error {
			if err := mirror.Connect(gCtx, endpoint); err != nil {
				return fmt.Errorf("connect interface mirror: %w", err)
			}
			return nil
		})
	} else {
		d.nodeV4.SetInterfaceMirrorReady()
		d.nodeV6.SetInterfaceMirrorReady()
	}

	d.reconcile(d.cfg)

	metricsSrv := newMetricsServer(d.cfg.Metrics, d.reg)
	startHTTPServer(gCtx, g, metricsSrv, "metrics", d.logger)

	ctlSrv, ctlListener, err := d.newControlServer()
	if err != nil {
		return fmt.Errorf("start control socket: %w", err)
	}
	g.Go(func() error { return ctlSrv.Serve(gCtx, ctlListener) })

	d.startSIGHUP(gCtx, g, configPath, logLevel)

	g.Go(func() error {
		<-gCtx.Done()
		return d.gracefulShutdown(gCtx, metricsSrv, ctlListener)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run mgroupd: %w", err)
	}
	return nil
}

// wireQueues connects the Q-primary/Q-notify queues to the metrics
// collector and to the Finder's birth/death callbacks, per spec.md
// Section 4.7's "finder dead marks all state unregistered" rule. It
// also issues the Finder ABI's register_class_event_interest for "fea"
// (spec.md Section 6, "Finder (naming) ABI") before anything that
// depends on birth/death callbacks actually firing: without this
// registration the Finder never sends xrl_target_birth/xrl_target_death
// for the FEA class, and OnTargetBirth/OnTargetDeath below would never
// run.
func (d *daemon) wireQueues() {
	d.primaryQueue.OnDepthChange(func(depth int) { d.collector.SetRPCQueueDepth("primary", depth) })
	d.primaryQueue.OnRetry(func(t rpcqueue.Task) { d.collector.IncRPCRetry(t.Kind()) })
	d.notifyQueue.OnDepthChange(func(depth int) { d.collector.SetRPCQueueDepth("notify", depth) })
	d.notifyQueue.OnRetry(func(t rpcqueue.Task) { d.collector.IncRPCRetry(t.Kind()) })

	d.primaryQueue.Enqueue(&rpcqueue.RegisterUnregisterInterestTask{
		Client:     d.client,
		Target:     "fea",
		IsRegister: true,
	})

	d.finder.OnTargetDeath("fea", func() {
		d.logger.Warn("FEA target died, marking queues unregistered")
		d.primaryQueue.FinderDead()
		d.notifyQueue.FinderDead()
	})
	d.finder.OnTargetBirth("fea", func() {
		d.logger.Info("FEA target alive, reconnecting queues")
		d.primaryQueue.Reconnect()
		d.notifyQueue.Reconnect()
		d.primaryQueue.Enqueue(&rpcqueue.RegisterUnregisterInterestTask{
			Client:     d.client,
			Target:     "fea",
			IsRegister: true,
		})
	})
}

// wireNodes installs each Node's logger, send sink, and readiness
// callback. sd_notify READY fires only once both families have
// published readiness (spec.md Section 4.6).
func (d *daemon) wireNodes(client rpcqueue.Client) {
	d.nodeV4.SetLogger(d.logger.With(slog.String("family", "IPv4")))
	d.nodeV6.SetLogger(d.logger.With(slog.String("family", "IPv6")))
	d.nodeV4.SetMetricsSink(d.collector)
	d.nodeV6.SetMetricsSink(d.collector)
	d.nodeV4.SetSendSink(newQuerySendSink(mgroup.FamilyV4, client, d.primaryQueue))
	d.nodeV6.SetSendSink(newQuerySendSink(mgroup.FamilyV6, client, d.primaryQueue))
	d.nodeV4.OnReady(func() { d.onNodeReady() })
	d.nodeV6.OnReady(func() { d.onNodeReady() })
}

func (d *daemon) onNodeReady() {
	d.readyMu.Lock()
	d.readyCount++
	ready := d.readyCount >= 2
	d.readyMu.Unlock()
	if !ready {
		return
	}
	sent, err := sdnotify.SdNotify(false, sdnotify.SdNotifyReady)
	if err != nil {
		d.logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		d.logger.Info("notified systemd: READY")
	}
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func startHTTPServer(ctx context.Context, g *errgroup.Group, srv *http.Server, name string, logger *slog.Logger) {
	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info(name+" server listening", slog.String("addr", srv.Addr))
		ln, err := lc.Listen(ctx, "tcp", srv.Addr)
		if err != nil {
			return fmt.Errorf("listen on %s: %w", srv.Addr, err)
		}
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s on %s: %w", name, srv.Addr, err)
		}
		return nil
	})
}

func (d *daemon) newControlServer() (*ctlproto.Server, net.Listener, error) {
	_ = os.Remove(d.cfg.Admin.SocketPath)
	ln, err := net.Listen("unix", d.cfg.Admin.SocketPath)
	if err != nil {
		return nil, nil, fmt.Errorf("listen on %s: %w", d.cfg.Admin.SocketPath, err)
	}
	handler := newAdminHandler(d.nodeV4, d.nodeV6)
	return ctlproto.NewServer(handler, d.logger), ln, nil
}

func (d *daemon) startSIGHUP(ctx context.Context, g *errgroup.Group, configPath string, logLevel *slog.LevelVar) {
	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-sigHUP:
				d.reload(configPath, logLevel)
			}
		}
	})
}

func (d *daemon) reload(configPath string, logLevel *slog.LevelVar) {
	d.logger.Info("received SIGHUP, reloading configuration")
	newCfg, err := loadConfig(configPath)
	if err != nil {
		d.logger.Error("failed to reload configuration, keeping current settings", slog.String("error", err.Error()))
		return
	}

	oldLevel := logLevel.Level()
	newLevel := config.ParseLogLevel(newCfg.Log.Level)
	logLevel.Set(newLevel)
	d.logger.Info("configuration reloaded",
		slog.String("old_log_level", oldLevel.String()),
		slog.String("new_log_level", newLevel.String()),
	)

	d.cfg = newCfg
	d.reconcile(newCfg)
}

// gracefulShutdown notifies systemd, stops accepting new control/metrics
// connections, and drains in-flight requests within shutdownTimeout.
func (d *daemon) gracefulShutdown(ctx context.Context, metricsSrv *http.Server, ctlListener net.Listener) error {
	d.logger.Info("initiating graceful shutdown")
	if sent, err := sdnotify.SdNotify(false, sdnotify.SdNotifyStopping); err == nil && sent {
		d.logger.Info("notified systemd: STOPPING")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown metrics server: %w", err))
	}
	if err := ctlListener.Close(); err != nil {
		shutdownErr = errors.Join(shutdownErr, fmt.Errorf("close control socket: %w", err))
	}
	return shutdownErr
}
