package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"

	"microgrid_simulator/internal/api"
	"microgrid_simulator/internal/config"
	"microgrid_simulator/internal/engine"
	"microgrid_simulator/internal/forecast"
	"microgrid_simulator/internal/simclient"
	"microgrid_simulator/internal/tariff"
	"microgrid_simulator/internal/ws"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	simulatorURL := flag.String("simulator-url", "", "batch simulator URL (overrides config)")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
		cfg = loaded
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *simulatorURL != "" {
		cfg.Simulator.URL = *simulatorURL
	}

	// PV forecast: cached PVWatts file if available, synthetic otherwise.
	fc := loadForecast(cfg.Simulator.ForecastFile)

	// WebSocket hub and the engine behind it
	hub := ws.NewHub()
	bridge := ws.NewBridge(hub)
	sim := simclient.New(cfg.Simulator.URL, cfg.SimulatorTimeout())
	eng := engine.New(sim, fc, tariff.NewLedger(), bridge, engine.Config{
		BatchDurationS:   cfg.Session.BatchDurationS,
		BasePointDelay:   cfg.BasePointDelay(),
		SnapshotThrottle: cfg.Throttle(),
		Rates:            cfg.Tariff,
		DefaultStart:     cfg.StartTime(),
	})

	wsHandler := ws.NewHandler(hub, eng)

	// Routes
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(api.Recovery())
	api.NewHandler(eng).Register(router)
	router.GET("/ws", gin.WrapH(wsHandler))

	// Serve frontend static files
	if _, err := os.Stat(cfg.FrontendDir); err == nil {
		log.Printf("Serving frontend from %s", cfg.FrontendDir)
		fileServer := http.FileServer(http.Dir(cfg.FrontendDir))
		router.NoRoute(gin.WrapH(fileServer))
	}

	if cfg.Session.AutoStart {
		if err := eng.Start("", ""); err != nil {
			log.Printf("Auto-start failed: %v", err)
		}
	}

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: cors.Default().Handler(router),
	}
	go func() {
		log.Printf("Starting server on %s (simulator at %s)", cfg.ListenAddr, cfg.Simulator.URL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("Shutting down")
	eng.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	hub.Close()
}

// loadForecast prefers the cached PVWatts response file; a synthetic year
// keeps the server usable without one.
func loadForecast(path string) *forecast.Hourly {
	if path != "" {
		fc, err := forecast.Load(path)
		if err == nil {
			return fc
		}
		log.Printf("Forecast file unusable, falling back to synthetic: %v", err)
	}
	log.Printf("Using synthetic PV forecast")
	return forecast.Synthetic()
}
