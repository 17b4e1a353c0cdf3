package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docpipe/docpipe"
	"github.com/docpipe/docpipe/storage"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	memStorage := flag.Bool("memory-storage", false, "Use in-memory object storage (development only)")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := docpipe.DefaultConfig()
	if *configPath != "" {
		f, err := os.Open(*configPath)
		if err != nil {
			slog.Error("opening config", "error", err)
			os.Exit(1)
		}
		if err := json.NewDecoder(f).Decode(&cfg); err != nil {
			f.Close()
			slog.Error("parsing config", "error", err)
			os.Exit(1)
		}
		f.Close()
	}

	// Override from environment variables.
	if v := os.Getenv("DOCPIPE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("DOCPIPE_S3_ENDPOINT"); v != "" {
		cfg.Storage.Endpoint = v
	}
	if v := os.Getenv("DOCPIPE_S3_ACCESS_KEY"); v != "" {
		cfg.Storage.AccessKey = v
	}
	if v := os.Getenv("DOCPIPE_S3_SECRET_KEY"); v != "" {
		cfg.Storage.SecretKey = v
	}
	if v := os.Getenv("DOCPIPE_S3_USE_SSL"); v == "true" || v == "1" {
		cfg.Storage.UseSSL = true
	}
	if v := os.Getenv("DOCPIPE_PUBLIC_BUCKET"); v != "" {
		cfg.Storage.PublicBucket = v
	}
	if v := os.Getenv("DOCPIPE_PRIVATE_BUCKET"); v != "" {
		cfg.Storage.PrivateBucket = v
	}
	if v := os.Getenv("DOCPIPE_PUBLIC_BASE_URL"); v != "" {
		cfg.Storage.PublicBaseURL = v
	}

	apiKey := os.Getenv("DOCPIPE_API_KEY")
	corsOrigins := os.Getenv("DOCPIPE_CORS_ORIGINS")
	if os.Getenv("DOCPIPE_STORAGE") == "memory" {
		*memStorage = true
	}

	var backend storage.Backend
	if *memStorage {
		slog.Warn("using in-memory object storage; files will not survive restarts")
		backend = storage.NewMemoryBackend()
	} else {
		s3, err := storage.NewS3Backend(storage.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
		})
		if err != nil {
			slog.Error("connecting to object storage", "error", err)
			os.Exit(1)
		}
		backend = s3
	}

	svc, err := docpipe.New(cfg, backend)
	if err != nil {
		slog.Error("creating service", "error", err)
		os.Exit(1)
	}
	defer svc.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ensureCtx, ensureCancel := context.WithTimeout(ctx, 30*time.Second)
	for _, v := range []storage.Visibility{storage.Public, storage.Private} {
		if err := svc.Bucket(v).Ensure(ensureCtx); err != nil {
			slog.Error("ensuring bucket", "bucket", svc.Bucket(v).Name(), "error", err)
			ensureCancel()
			os.Exit(1)
		}
	}
	ensureCancel()

	svc.Start(ctx)

	broadcaster := newBroadcaster(svc.Queue().Updates())
	go broadcaster.run(ctx)

	h := newHandler(svc, broadcaster)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/extract", h.handleExtract)
	mux.HandleFunc("POST /v1/uploads/presign", h.handlePresignUpload)
	mux.HandleFunc("POST /v1/downloads/presign", h.handlePresignDownload)
	mux.HandleFunc("GET /v1/files/{key...}", h.handleGetFile)
	mux.HandleFunc("GET /v1/metadata/{key...}", h.handleGetMetadata)
	mux.HandleFunc("DELETE /v1/files/{key...}", h.handleDeleteFile)
	mux.HandleFunc("DELETE /v1/files", h.handleDeletePrefix)
	mux.HandleFunc("GET /v1/deletions/failed", h.handleFailedDeletions)
	mux.HandleFunc("GET /v1/deletions/updates", h.handleDeletionUpdates)
	mux.HandleFunc("GET /health", h.handleHealth)

	// Middleware chain: recovery -> cors -> auth -> logging -> mux
	var handler http.Handler = mux
	handler = logMiddleware(handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // streaming downloads and websocket upgrades
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	cancel() // stop deletion consumers and sweeper
	slog.Info("server stopped")
}
