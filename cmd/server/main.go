package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HyphaGroup/mcpcore/internal/audit"
	"github.com/HyphaGroup/mcpcore/internal/auth"
	"github.com/HyphaGroup/mcpcore/internal/catalog"
	"github.com/HyphaGroup/mcpcore/internal/config"
	"github.com/HyphaGroup/mcpcore/internal/engine"
	"github.com/HyphaGroup/mcpcore/internal/janitor"
	"github.com/HyphaGroup/mcpcore/internal/logger"
	"github.com/HyphaGroup/mcpcore/internal/metrics"
	"github.com/HyphaGroup/mcpcore/internal/operation"
	"github.com/HyphaGroup/mcpcore/internal/protocol"
	"github.com/HyphaGroup/mcpcore/internal/registry"
	"github.com/HyphaGroup/mcpcore/internal/session"
	"github.com/HyphaGroup/mcpcore/internal/transport"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	configDir := flag.String("config-dir", "", "directory holding mcpcore.jsonc (default: ./config, then ~/.mcpcore/config)")
	versionFlag := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("mcpcore %s\n", Version)
		return
	}

	configPath, err := config.FindConfigPath(*configDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: resolving config path: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: loading config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Dir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: initializing logger: %v\n", err)
		os.Exit(1)
	}
	if err := logger.InitSlog(cfg.Logging.Dir, cfg.Logging.JSON); err != nil {
		fmt.Fprintf(os.Stderr, "Error: initializing structured logger: %v\n", err)
		os.Exit(1)
	}

	auditLogger, err := audit.New(cfg.Audit.DataDir, cfg.Audit.Enabled)
	if err != nil {
		logger.Fatalf("initializing audit logger: %v", err)
	}

	sessions := session.NewManager()
	operations := operation.NewManager(nil)
	tools := registry.NewToolRegistry()
	resources := registry.NewResourceRegistry()
	prompts := registry.NewPromptRegistry()
	catalog.Register(tools, resources, prompts)

	eng := engine.New(
		protocol.ServerInfo{Name: "mcpcore", Version: Version},
		sessions, operations, tools, resources, prompts,
		logger.Slog(), metrics.Recorder{}, auditLogger,
	)

	httpTransport := transport.NewStreamableHTTP(eng, logger.Slog())
	eng.Bind(httpTransport)

	limiter := auth.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	var handler http.Handler = auth.RateLimitMiddleware(limiter)(httpTransport)
	if cfg.Auth.BearerToken != "" {
		handler = auth.Middleware(auth.Options{
			Validate:            auth.StaticToken(cfg.Auth.BearerToken),
			ResourceMetadataURL: cfg.Auth.ResourceMetadataURL,
		})(handler)
	}
	handler = metrics.HTTPMiddleware(handler)

	mux := http.NewServeMux()
	mux.Handle(cfg.Endpoint, handler)
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	idleTimeout := time.Duration(cfg.Janitor.SessionIdleTimeoutSeconds) * time.Second
	j := janitor.New(sessions, operations, janitor.Config{Schedule: cfg.Janitor.Schedule, IdleTimeout: idleTimeout})
	if err := j.Start(); err != nil {
		logger.Fatalf("starting janitor: %v", err)
	}

	ctx, dispatchCancel := context.WithCancel(context.Background())
	go eng.Run(ctx)

	logger.Println("🚀 Starting mcpcore MCP server...")
	logger.Printf("📡 Server address: http://localhost%s%s\n", cfg.Address, cfg.Endpoint)
	logger.Println("")

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	case sig := <-shutdownChan:
		logger.Printf("⚠️  Received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		logger.Println("   Closing HTTP listener...")
		_ = srv.Shutdown(shutdownCtx)

		logger.Println("   Stopping dispatch loop...")
		dispatchCancel()

		logger.Println("   Closing transport...")
		_ = httpTransport.Close()

		logger.Println("   Stopping janitor...")
		j.Stop(shutdownCtx)

		logger.Println("   Closing audit log...")
		_ = auditLogger.Close()

		logger.Println("✅ Shutdown complete")
		_ = logger.CloseSlog()
		_ = logger.Close()
	}
}
