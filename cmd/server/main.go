package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/Siddharth-777/ECHO/internal/config"
	"github.com/Siddharth-777/ECHO/internal/logging"
	"github.com/Siddharth-777/ECHO/internal/relay"
	"github.com/Siddharth-777/ECHO/internal/server"
)

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}
	logging.Init(cfg.LogLevel, os.Stderr)
	log := logging.For("server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// 1. Create the Hub and run its event loop
	hub := relay.NewHub(relay.NewRegistry(cfg.MaxRoomSize), relay.NewMetrics(reg), logging.For("relay"))
	go hub.Run(ctx)

	// 2. Register the routes
	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           server.NewMux(hub, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// 3. Start the server
	go func() {
		log.WithFields(logrus.Fields{
			"addr":          srv.Addr,
			"max_room_size": cfg.MaxRoomSize,
		}).Info("Starting signaling server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("Shutting down http server")
	}
	<-hub.Done()
}
