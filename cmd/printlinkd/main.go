package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/printlink/printlink/internal/api"
	"github.com/printlink/printlink/internal/api/handlers"
	"github.com/printlink/printlink/internal/api/middleware"
	"github.com/printlink/printlink/internal/config"
	"github.com/printlink/printlink/internal/core"
	"github.com/printlink/printlink/internal/events"
)

const version = "1.2.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[main] load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("[main] invalid config: %v", err)
	}

	hub := events.NewHub()
	notifier := events.NewNotifier(cfg.Webhooks, hub)
	notifier.Start()

	registry := core.NewRegistry()
	supervisor := core.NewSupervisor(registry, protocolTimings(cfg.Protocol), notifier)
	channel := core.NewChannel(registry, supervisor)
	gateway := core.NewGateway(supervisor, channel)

	gin.SetMode(gin.ReleaseMode)
	relay := handlers.NewRelayHandler(gateway, hub, version)
	router := api.NewRouter(relay, middleware.NewAuthMiddleware(cfg.Relay.Auth))

	addr := fmt.Sprintf("%s:%d", cfg.Relay.BindAddress, cfg.Relay.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Relay.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.Relay.WriteTimeoutSeconds) * time.Second,
	}

	go func() {
		log.Printf("[main] printlink %s, relay listening on %s", version, addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] relay server: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Println("[main] shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)

	supervisor.CloseAll()
	hub.CloseAll()
	notifier.Stop()
	log.Println("[main] bye")
}

// protocolTimings maps the config's integer tunables onto the defaults,
// overriding only what was set.
func protocolTimings(p config.ProtocolConfig) core.Timings {
	t := core.DefaultTimings()
	if p.ConnectTimeoutSeconds > 0 {
		t.ConnectTimeout = time.Duration(p.ConnectTimeoutSeconds) * time.Second
	}
	if p.EphemeralConnectTimeoutSeconds > 0 {
		t.EphemeralConnectTimeout = time.Duration(p.EphemeralConnectTimeoutSeconds) * time.Second
	}
	if p.HandshakeSettleMs > 0 {
		t.HandshakeSettle = time.Duration(p.HandshakeSettleMs) * time.Millisecond
	}
	if p.ReadTimeoutSeconds > 0 {
		t.ReadTimeout = time.Duration(p.ReadTimeoutSeconds) * time.Second
	}
	if p.KeepAliveSeconds > 0 {
		t.KeepAlivePeriod = time.Duration(p.KeepAliveSeconds) * time.Second
	}
	if p.IdleWindowMs > 0 {
		t.IdleWindow = time.Duration(p.IdleWindowMs) * time.Millisecond
	}
	if p.EphemeralCeilingMs > 0 {
		t.EphemeralCeiling = time.Duration(p.EphemeralCeilingMs) * time.Millisecond
	}
	if p.SessionCeilingMs > 0 {
		t.SessionCeiling = time.Duration(p.SessionCeilingMs) * time.Millisecond
	}
	if p.ProbeTimeoutMs > 0 {
		t.ProbeTimeout = time.Duration(p.ProbeTimeoutMs) * time.Millisecond
	}
	return t
}
