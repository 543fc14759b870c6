// Package main implements the conductor binary: it bootstraps (or reopens)
// a local cluster, starts the maintenance consumer, and serves the HTTP
// query surface.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	httpapi "github.com/Ankcorn/big-daddy/internal/api/http"
	"github.com/Ankcorn/big-daddy/internal/conductor"
	"github.com/Ankcorn/big-daddy/internal/config"
	cerr "github.com/Ankcorn/big-daddy/internal/errors"
	"github.com/Ankcorn/big-daddy/internal/maintenance"
	"github.com/Ankcorn/big-daddy/internal/shard"
	"github.com/Ankcorn/big-daddy/internal/topology"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile  string
		dataDir     string
		httpAddr    string
		numNodes    int
		showVersion bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&dataDir, "data-dir", "", "Base directory for catalog and shard data")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP listen address for the query surface")
	flag.IntVar(&numNodes, "nodes", 0, "Storage node count at bootstrap")
	flag.BoolVar(&showVersion, "version", false, "Show version information")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "conductor - distributed SQL over SQLite shards\n\n")
		fmt.Fprintf(os.Stderr, "Usage: conductor [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment variables use the CONDUCTOR_ prefix; see internal/config.\n")
	}
	flag.Parse()

	if showVersion {
		fmt.Printf("conductor %s (%s)\n", version, commit)
		return
	}

	cfg := config.DefaultConfig()
	if configFile != "" {
		loaded, err := config.LoadFromFile(configFile)
		if err != nil {
			logrus.WithError(err).Fatal("failed to load config")
		}
		cfg = loaded
	}
	config.LoadFromEnv(cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if httpAddr != "" {
		cfg.HTTP.Addr = httpAddr
	}
	if numNodes > 0 {
		cfg.Cluster.NumNodes = numNodes
	}
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	if err := run(cfg); err != nil {
		logrus.WithError(err).Fatal("conductor exited")
	}
}

func run(cfg *config.Config) error {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}

	store, err := topology.NewStore(cfg.TopologyPath())
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bootstrap once; reopening an existing catalog is not an error.
	if err := store.Create(ctx, cfg.Cluster.NumNodes); err != nil {
		var ce *cerr.ConductorError
		if !errors.As(err, &ce) || ce.Code != cerr.CodeAlreadyCreated {
			return err
		}
	}

	registry, err := shard.NewLocalCluster(cfg.NodesDir(), cfg.Cluster.NumNodes)
	if err != nil {
		return err
	}
	defer registry.Close()

	queue := maintenance.NewQueue(cfg.Maintenance.BufferSize)
	defer queue.Close()
	consumer := maintenance.NewConsumer(queue, store, maintenance.NewBuilder(store, registry))
	go consumer.Run(ctx)

	conductorCfg := conductor.DefaultConfig()
	conductorCfg.DatabaseID = cfg.DatabaseID
	conductorCfg.DefaultNumShards = cfg.Cluster.DefaultNumShards
	conductorCfg.Parallelism = cfg.Query.Parallelism
	conductorCfg.ShardTimeout = cfg.Query.ShardTimeout
	conductorCfg.PlanCacheSize = cfg.Query.PlanCacheSize
	conductorCfg.SnapshotTTL = cfg.Query.SnapshotTTL

	c, err := conductor.New(conductorCfg, store, registry, queue)
	if err != nil {
		return err
	}

	server := httpapi.NewServer(c)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.HTTP.Addr)
	}()
	logrus.WithFields(logrus.Fields{
		"addr":  cfg.HTTP.Addr,
		"nodes": cfg.Cluster.NumNodes,
	}).Info("conductor started")

	select {
	case <-ctx.Done():
		logrus.Info("shutting down")
		if err := server.Shutdown(); err != nil {
			logrus.WithError(err).Warn("server shutdown failed")
		}
		// Flush remaining maintenance work before closing.
		consumer.Drain(context.Background())
		return nil
	case err := <-errCh:
		return err
	}
}
