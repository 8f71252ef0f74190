package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/konstantsiy/clustercore/internal/background"
	"github.com/konstantsiy/clustercore/internal/cacheservice"
	"github.com/konstantsiy/clustercore/internal/clientapi"
	"github.com/konstantsiy/clustercore/internal/config"
	"github.com/konstantsiy/clustercore/internal/lockservice"
	"github.com/konstantsiy/clustercore/internal/queueservice"
	"github.com/konstantsiy/clustercore/internal/raft"
	"github.com/konstantsiy/clustercore/internal/sink"
	"github.com/konstantsiy/clustercore/internal/statemachine"
	"github.com/konstantsiy/clustercore/internal/transport"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to YAML config file")
		id         = flag.String("id", "", "ID of this node (overrides config)")
		listenAddr = flag.String("listen", "", "Listen address (overrides config)")
		peers      = flag.String("peers", "", "Comma separated id@host:port list (overrides config)")
		dataDir    = flag.String("data", "./data", "Data directory for persistent state")
	)
	flag.Parse()

	cfg := config.Defaults()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("fatal config error: %v", err)
		}
		cfg = *loaded
	}
	if *id != "" {
		cfg.Node.ID = *id
	}
	if *listenAddr != "" {
		cfg.Node.ListenAddr = *listenAddr
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *peers != "" {
		parsed, err := config.ParsePeersFlag(*peers)
		if err != nil {
			log.Fatalf("fatal config error: %v", err)
		}
		cfg.Cluster.Peers = parsed
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("fatal config error: %v", err)
	}

	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		log.Printf("fatal I/O error: %v", err)
		os.Exit(2)
	}

	addresses := cfg.PeerAddresses()
	peerIDs := cfg.PeerIDs()

	detector := transport.NewDetector(cfg.FD.PhiSuspectedThreshold, cfg.FD.PhiFailedThreshold, cfg.FD.SampleWindow)
	httpClient := transport.NewClient(2*time.Second, detector)

	backing, err := sink.NewLevelDBSink(cfg.Node.DataDir + "/sink")
	if err != nil {
		log.Printf("fatal I/O error: %v", err)
		os.Exit(2)
	}

	locks := lockservice.NewTable()
	queues := queueservice.NewBroker(cfg.Queue.MaxRetries, backing)
	prober := cacheservice.NewHTTPProber(httpClient, addresses, cfg.Node.ID)
	cache := cacheservice.NewDirectory(cfg.Node.ID, cfg.Cache.Capacity, prober, backing)
	machine := statemachine.New(locks, queues, cache)

	raftTransport := raft.NewHTTPTransport(httpClient, addresses)
	electionMin, electionMax := cfg.ElectionTimeoutRange()
	node, err := raft.NewNode(cfg.Node.ID, peerIDs, cfg.Node.DataDir, machine, raftTransport,
		raft.WithElectionTimeout(electionMin, electionMax),
		raft.WithHeartbeatInterval(cfg.HeartbeatInterval()),
	)
	if err != nil {
		log.Printf("fatal I/O error: %v", err)
		os.Exit(2)
	}

	ring := queueservice.NewRing(peerIDs)
	monitor := background.NewFailureMonitor(detector, 200*time.Millisecond)

	mux := http.NewServeMux()
	raft.NewHTTPHandler(node).RegisterRoutes(mux)
	cacheservice.NewHTTPHandler(cache).RegisterRoutes(mux)
	clientapi.NewServer(cfg.Node.ID, node, machine, ring, addresses, httpClient).RegisterRoutes(mux)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		term, isLeader := node.State()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(struct {
			Term     uint64            `json:"term"`
			IsLeader bool              `json:"isLeader"`
			Peers    map[string]string `json:"peers"`
		}{Term: term, IsLeader: isLeader, Peers: monitor.Snapshot()})
	})

	node.Start()

	scanner := background.NewDeadlockScanner(node, machine, cfg.DeadlockScanInterval())
	sweeper := background.NewQueueSweeper(node, machine, time.Second)
	evictor := background.NewCacheEvictor(node, machine, cfg.Node.ID, time.Second)
	go scanner.Run()
	go sweeper.Run()
	go evictor.Run()
	go monitor.Run()

	httpServer := &http.Server{Addr: cfg.Node.ListenAddr, Handler: mux}
	go func() {
		log.Printf("node %s listening on %s", cfg.Node.ID, cfg.Node.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("fatal I/O error: %v", err)
			os.Exit(2)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down...")
	scanner.Stop()
	sweeper.Stop()
	evictor.Stop()
	monitor.Stop()
	node.Shutdown()
	_ = backing.Close()
	_ = httpServer.Close()
}
