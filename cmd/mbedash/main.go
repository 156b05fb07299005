package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shaunagostinho/mbe-dash/internal/ec2"
	"github.com/shaunagostinho/mbe-dash/internal/ecu"
	"github.com/shaunagostinho/mbe-dash/internal/mbe"
	"github.com/shaunagostinho/mbe-dash/internal/server"
	"github.com/shaunagostinho/mbe-dash/internal/store"
)

func main() {
	configPath := flag.String("config", "/etc/mbe-dash/config.yaml", "Path to config file")
	fixture := flag.Bool("fixture", false, "Replay captured traffic instead of opening the serial link")
	listenAddr := flag.String("listen", "", "Override listen address (e.g. :8080)")
	defsPath := flag.String("defs", "", "Override the variable definitions file (.ec2 or .json)")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("[main] mbe-dash starting")

	cfg := server.LoadConfig(*configPath)

	if *fixture {
		cfg.ECU.Type = "fixture"
	}
	if *listenAddr != "" {
		cfg.Server.ListenAddr = *listenAddr
	}
	if *defsPath != "" {
		cfg.ECU.Definitions = *defsPath
	}

	// Definitions are required; nothing can be polled without them
	defs, err := ec2.LoadFile(cfg.ECU.Definitions)
	if err != nil {
		log.Fatalf("[main] load definitions: %v", err)
	}
	cat, err := mbe.NewCatalog(defs)
	if err != nil {
		log.Fatalf("[main] build catalog: %v", err)
	}
	log.Printf("[main] %d variables from %s", cat.Len(), cfg.ECU.Definitions)

	follow := mbe.NewFollowList(cat)
	if n := follow.AddList(cfg.ECU.Variables, cfg.ECU.Interval()); n < len(cfg.ECU.Variables) {
		log.Printf("[main] following %d of %d configured variables", n, len(cfg.ECU.Variables))
	}
	if follow.Len() == 0 {
		log.Fatalf("[main] follow list is empty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()

	var prov ecu.Provider
	switch cfg.ECU.Type {
	case "serial":
		prov = ecu.NewLink(ecu.LinkConfig{
			PortPath: cfg.ECU.PortPath,
			BaudRate: cfg.ECU.BaudRate,
			Framing:  cfg.ECU.Framing,
			Timeout:  cfg.ECU.Timeout(),
		})
	default:
		fix, err := ecu.LoadFixture(cfg.ECU.Fixture)
		if err != nil {
			log.Fatalf("[main] load fixture: %v", err)
		}
		prov = fix
	}
	defer prov.Close()

	// Dashboard starts regardless; cycles abort with no response until connected
	go connectWithRetry(ctx, "ECU", prov, 10)

	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			log.Printf("[main] history store disabled: %v", err)
			st = nil
		} else {
			defer st.Close()
		}
	}

	srv := server.New(cfg, prov, cat, follow, st)
	if err := srv.Run(ctx); err != nil {
		log.Printf("[main] server exited: %v", err)
	}
}

// connectWithRetry attempts to connect with exponential backoff.
// Starts at 1s, doubles each attempt up to 60s, retries up to maxAttempts
// then continues at max interval indefinitely.
func connectWithRetry(ctx context.Context, name string, p ecu.Provider, maxAttempts int) {
	delay := 1 * time.Second
	maxDelay := 60 * time.Second
	attempt := 0

	for {
		if p.IsConnected() {
			return
		}
		err := p.Connect()
		if err == nil {
			log.Printf("[%s] connected to %s (attempt %d)", name, p.Name(), attempt+1)
			return
		}

		attempt++
		if attempt <= maxAttempts {
			log.Printf("[%s] connect attempt %d/%d failed: %v (retry in %v)",
				name, attempt, maxAttempts, err, delay)
		} else {
			log.Printf("[%s] connect attempt %d failed: %v (retry in %v)",
				name, attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		delay *= 2
		if delay > maxDelay {
			delay = maxDelay
		}
	}
}
