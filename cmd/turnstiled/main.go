package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/turnstile-io/turnstile/pkg/gateway"
	"github.com/turnstile-io/turnstile/pkg/metrics"
	"github.com/turnstile-io/turnstile/pkg/raft"
)

func main() {
	var (
		nodeID    = flag.String("node-id", "", "Unique node ID (generates UUID if empty)")
		raftAddr  = flag.String("raft-addr", "127.0.0.1:7400", "Raft bind address")
		httpAddr  = flag.String("http-addr", ":8480", "HTTP status/metrics address")
		dataDir   = flag.String("data-dir", "./data", "Data directory for Raft storage")
		bootstrap = flag.Bool("bootstrap", false, "Bootstrap a new cluster")
		logLevel  = flag.String("log-level", "info", "Log level (trace/debug/info/warn/error)")
	)
	flag.Parse()

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "turnstiled",
		Level: hclog.LevelFromString(*logLevel),
	})

	var nid uuid.UUID
	var err error
	if *nodeID == "" {
		nid = uuid.New()
		logger.Info("generated node id", "id", nid)
	} else {
		nid, err = uuid.Parse(*nodeID)
		if err != nil {
			log.Fatalf("invalid node id: %v", err)
		}
	}

	logger.Info("starting turnstile node",
		"node_id", nid,
		"raft", *raftAddr,
		"http", *httpAddr,
		"data", *dataDir,
		"bootstrap", *bootstrap,
	)

	node, err := raft.NewNode(&raft.Config{
		NodeID:    nid,
		BindAddr:  *raftAddr,
		DataDir:   *dataDir,
		Bootstrap: *bootstrap,
		Logger:    logger.Named("raft"),
	})
	if err != nil {
		log.Fatalf("failed to create raft node: %v", err)
	}
	defer node.Shutdown()

	logger.Info("raft node initialized")

	gwServer := gateway.NewServer(*httpAddr, node)
	go func() {
		logger.Info("http gateway listening", "addr", *httpAddr)
		if err := gwServer.Start(); err != nil {
			log.Fatalf("http gateway failed: %v", err)
		}
	}()

	// keep the leader gauge current
	stopGauge := make(chan struct{})
	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if node.IsLeader() {
					metrics.RaftIsLeader.Set(1)
				} else {
					metrics.RaftIsLeader.Set(0)
				}
			case <-stopGauge:
				return
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("turnstile is ready")

	<-sigCh
	logger.Info("shutting down gracefully")

	close(stopGauge)
	gwServer.Stop(context.Background())

	logger.Info("shutdown complete")
}
