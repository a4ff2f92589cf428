// Command cantal-agentd is the cluster telemetry daemon's agent
// process: it runs the gossip membership protocol, the remote
// connection manager, self-metering, and a read-only status API on one
// process, wired together the way cmd/peerup's daemon entry point
// wires its own P2P host, daemon API, and watchdog.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/dizhaung/cantal/internal/config"
	"github.com/dizhaung/cantal/internal/control"
	"github.com/dizhaung/cantal/internal/metering"
	"github.com/dizhaung/cantal/pkg/gossip"
	"github.com/dizhaung/cantal/pkg/hostid"
	"github.com/dizhaung/cantal/pkg/remote"
)

// Set via -ldflags at build time:
//
//	go build -ldflags "-X main.version=0.1.0 -X main.commit=$(git rev-parse --short HEAD)" -o cantal-agentd ./cmd/cantal-agentd
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	configFlag := flag.String("config", "", "path to config file")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("cantal-agentd %s (%s)\n", version, commit)
		fmt.Printf("Go %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		return
	}

	path, err := config.FindConfigFile(*configFlag)
	if err != nil {
		fatal("%v", err)
	}
	cfg, err := config.LoadConfig(path)
	if err != nil {
		fatal("failed to load config %s: %v", path, err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		fatal("invalid config %s: %v", path, err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(cfg.Logging.Level),
	})))

	machineID, err := resolveMachineID(cfg)
	if err != nil {
		fatal("failed to resolve machine id: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	info := gossip.NewInfo()
	gossipMetrics := gossip.NewMetrics()
	proto, err := gossip.NewProto(gossip.Config{
		Bind:              cfg.Bind,
		ClusterName:       cfg.ClusterName,
		MachineID:         machineID,
		Hostname:          cfg.Hostname,
		Name:              cfg.Name,
		Addresses:         cfg.Addresses,
		Interval:          cfg.Interval,
		MaxPacketSize:     cfg.MaxPacketSize,
		AddHostFirstSleep: cfg.AddHostFirstSleep,
	}, info, gossipMetrics)
	if err != nil {
		fatal("failed to start gossip: %v", err)
	}
	defer proto.Close()

	remoteMetrics := remote.NewMetrics()
	manager := remote.NewManager(info, remoteMetrics)

	// send_touch (spec.md §4.3): whenever a peer's primary address
	// becomes known, tell the manager it's worth re-checking.
	proto.OnTouch = func(id hostid.HostId) {
		select {
		case manager.Commands() <- remote.PeersUpdated:
		default:
			slog.Warn("remote: command queue full, dropping PeersUpdated", "peer", id)
		}
	}

	startTime := time.Now()
	rt := &runtimeAdapter{
		machineID:   machineID,
		clusterName: cfg.ClusterName,
		version:     version,
		startTime:   startTime,
		info:        info,
		manager:     manager,
	}

	var ctrlSrv *control.Server
	if cfg.Control.Enabled {
		socketPath := cfg.Control.SocketPath
		if socketPath == "" {
			dir, err := config.DefaultConfigDir()
			if err != nil {
				fatal("cannot determine config dir for control socket: %v", err)
			}
			socketPath = filepath.Join(dir, "control.sock")
		}
		cookiePath := socketPath + ".cookie"
		ctrlSrv = control.NewServer(rt, socketPath, cookiePath, version, control.NewMetrics())
		if err := ctrlSrv.Start(); err != nil {
			fatal("failed to start control API: %v", err)
		}
		defer ctrlSrv.Stop()
	}

	meteringMetrics := metering.NewMetrics()
	go func() {
		listenAddr := ""
		if cfg.Telemetry.Metrics.Enabled {
			listenAddr = cfg.Telemetry.Metrics.ListenAddress
		}
		if err := metering.Run(ctx, metering.Config{ListenAddress: listenAddr}, meteringMetrics, startTime); err != nil {
			slog.Error("metering: exited", "error", err)
		}
	}()

	go func() {
		if err := proto.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("gossip: exited", "error", err)
		}
	}()
	go func() {
		if err := manager.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("remote: exited", "error", err)
		}
	}()
	manager.Commands() <- remote.Start

	slog.Info("cantal-agentd started", "bind", cfg.Bind, "cluster", cfg.ClusterName, "machine_id", machineID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
}

func resolveMachineID(cfg *config.Config) (hostid.HostId, error) {
	if cfg.MachineID != "" {
		return hostid.Parse(cfg.MachineID)
	}
	dir, err := config.DefaultConfigDir()
	if err != nil {
		return hostid.HostId{}, err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return hostid.HostId{}, fmt.Errorf("create config dir %s: %w", dir, err)
	}
	return hostid.LoadOrCreate(filepath.Join(dir, "machine-id"))
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "cantal-agentd: "+format+"\n", args...)
	os.Exit(1)
}
