// README: Entry point; loads config, wires stores and services, starts the HTTP server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medilink/internal/config"
	"medilink/internal/geo"
	httptransport "medilink/internal/http"
	"medilink/internal/infra"
	"medilink/internal/modules/location"
	"medilink/internal/modules/order"
	"medilink/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.Fatal(err)
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	verifier, err := infra.NewJWTVerifier(cfg.Auth.JWTSecret)
	if err != nil {
		log.Fatalf("jwt init: %v", err)
	}

	hub := ws.NewHub()

	var geocoder location.Geocoder
	if cfg.Maps.APIKey != "" {
		g, err := geo.NewGeocoder(cfg.Maps.APIKey)
		if err != nil {
			log.Fatalf("maps init: %v", err)
		}
		geocoder = g
	}

	orderStore := order.NewStore(dbPool)
	orderSvc := order.NewService(orderStore, hub)

	locationStore := location.NewStore(dbPool, redisClient)
	locationSvc := location.NewService(locationStore, geocoder, hub, cfg.Tracking.HistoryLimit)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Order:    orderSvc,
		Location: locationSvc,
		Hub:      hub,
		Verifier: verifier,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: handler.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}()

	log.Printf("listening on %s", cfg.HTTP.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}
