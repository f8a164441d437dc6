// Package server wires the dynamic Gateway Core into a long-running process:
// it loads gateway.yaml, starts the gateway, serves HTTP, and shuts down
// gracefully on SIGTERM/SIGINT.
package server

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/n9te9/federation-gateway/federation/graph"
	"github.com/n9te9/federation-gateway/gateway"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const gatewayVersion = "v0.1.0"

// Run loads gateway.yaml, starts the Gateway Core (composing the initial
// schema and launching its polling loop), serves HTTP until interrupted, then
// shuts everything down in reverse order.
func Run() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	config, err := loadGatewayConfig()
	if err != nil {
		log.Fatalf("failed to load gateway config: %v", err)
	}

	gw := gateway.NewDynamicGateway(*config)
	gw.OnReplaceSchema(func(old, new *graph.SuperGraph) {
		logger.Info("gateway: schema composed")
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM)
	defer cancel()

	shutdownTracer, err := gateway.InitTracer(ctx, config.ServiceName, gatewayVersion)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}

	if err := gw.Start(ctx); err != nil {
		log.Fatalf("failed to start gateway: %v", err)
	}

	gwHandler := http.Handler(gw)
	if config.Opentelemetry.TracingSetting.Enable {
		gwHandler = otelhttp.NewHandler(gwHandler, config.ServiceName)
	}

	timeoutDuration := time.Duration(0)
	if config.TimeoutDuration != "" {
		if d, err := time.ParseDuration(config.TimeoutDuration); err == nil {
			timeoutDuration = d
		}
	}
	if timeoutDuration <= 0 {
		timeoutDuration = 5 * time.Second
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", config.Port),
		Handler: gwHandler,
	}

	go func() {
		log.Printf("starting gateway server on port %d", config.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("gateway server failed: %v", err)
		}
	}()

	<-ctx.Done()

	timeoutCtx, cancel := context.WithTimeout(context.Background(), timeoutDuration)
	defer cancel()

	log.Println("shutting down gateway server...")
	if err := srv.Shutdown(timeoutCtx); err != nil {
		log.Fatalf("failed to shutdown gateway server: %v", err)
	}

	if err := gw.Shutdown(timeoutCtx); err != nil {
		log.Fatalf("failed to shutdown gateway core: %v", err)
	}

	if err := shutdownTracer(timeoutCtx); err != nil {
		log.Fatalf("failed to shutdown tracer: %v", err)
	}

	log.Println("gateway server stopped")
}

func loadGatewayConfig() (*gateway.GatewayConfig, error) {
	f, err := os.Open("gateway.yaml")
	if err != nil {
		return nil, fmt.Errorf("failed to open gateway config file: %w", err)
	}
	defer f.Close()

	b, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway config file: %w", err)
	}

	var config gateway.GatewayConfig
	if err := yaml.Unmarshal(b, &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal gateway config: %w", err)
	}

	return &config, nil
}
