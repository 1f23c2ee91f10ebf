package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/homefleet/bmsble/pkg/config"
	"github.com/homefleet/bmsble/pkg/export"
	"github.com/homefleet/bmsble/pkg/monitor"
	"github.com/homefleet/bmsble/pkg/registry"

	_ "github.com/homefleet/bmsble/pkg/drivers/sim"
)

type snapshots struct {
	mu   sync.Mutex
	last map[string]monitor.Update
}

func (s *snapshots) set(u monitor.Update) {
	s.mu.Lock()
	s.last[u.Device] = u
	s.mu.Unlock()
}

func (s *snapshots) handler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.last); err != nil {
		log.Println("error writing devices snapshot:", err)
	}
}

func main() {
	configPath := flag.String("config", "bmsmond.yaml", "Path to the config file")
	listen := flag.String("listen", "", "Listen address, overrides the config file")
	flag.Parse()

	log.Println("Loading config", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}
	if len(cfg.Devices) == 0 {
		log.Fatal("no devices configured, nothing to do")
	}

	exporter := export.New(prometheus.DefaultRegisterer)
	snaps := &snapshots{last: map[string]monitor.Update{}}

	var monitors []*monitor.Monitor
	for _, dev := range cfg.Devices {
		drv, ok := registry.Lookup(dev.Driver)
		if !ok {
			log.Fatalf("device %q: unknown driver %q (have %v)", dev.Name, dev.Driver, registry.Names())
		}
		log.Printf("Creating %s monitor for %q at %s", drv.Info.DeviceID(), dev.Name, dev.Address)
		b, err := drv.New(dev.Address, dev.Reconnect)
		if err != nil {
			log.Fatalf("device %q: %v", dev.Name, err)
		}
		mon := monitor.New(b, monitor.Config{
			Device:       dev.Name,
			PollInterval: cfg.PollInterval.Std(),
			Reconnect:    dev.Reconnect,
		})
		mon.Start()
		monitors = append(monitors, mon)
		go func() {
			for u := range mon.Updates() {
				exporter.Handle(u)
				snaps.set(u)
			}
		}()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/devices", snaps.handler)

	go func() {
		log.Println("Listening on", cfg.Listen)
		if err := http.ListenAndServe(cfg.Listen, mux); err != nil {
			log.Fatal(err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down")
	for _, mon := range monitors {
		mon.Stop()
	}
}
