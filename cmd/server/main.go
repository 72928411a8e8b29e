package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pageturn/pageturn/internal/api"
	"github.com/pageturn/pageturn/internal/config"
	"github.com/pageturn/pageturn/internal/fetch"
	"github.com/pageturn/pageturn/internal/health"
	"github.com/pageturn/pageturn/internal/progress"
	"github.com/pageturn/pageturn/internal/reader"
	"github.com/pageturn/pageturn/internal/storage"
	"github.com/pageturn/pageturn/internal/store"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "config/dev.example.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Printf("Starting Pageturn Server v%s", version)
	log.Printf("Configuration loaded from: %s", *configPath)

	storageAdapter, err := storage.NewAdapter(cfg.Storage)
	if err != nil {
		log.Fatalf("Failed to create storage adapter: %v", err)
	}
	defer storageAdapter.Close()
	log.Printf("Storage adapter initialized: %s", cfg.Storage.Adapter)

	repo := store.NewRepository(storageAdapter)

	progressCache, err := progress.NewFileCache(cfg.Cache.Dir)
	if err != nil {
		log.Fatalf("Failed to create progress cache: %v", err)
	}
	bridge := progress.NewBridge(progressCache, repo)
	log.Printf("Progress cache at: %s", cfg.Cache.Dir)

	fetcher := fetch.NewFetcher(storageAdapter, cfg.Reader.FetchRetries)
	readerService := reader.NewService(repo, fetcher, bridge, storageAdapter, cfg.Reader)

	healthHandler := health.NewHandler(version)
	healthHandler.Register("storage", func(ctx context.Context) (health.Status, error) {
		if _, err := storageAdapter.Exists(ctx, ".healthcheck"); err != nil {
			return health.StatusUnhealthy, err
		}
		return health.StatusHealthy, nil
	})

	bookHandler := api.NewBookHandler(repo, bridge, cfg.Server.MaxUploadMB)
	readerHandler := api.NewReaderHandler(readerService, repo, bridge)

	mux := http.NewServeMux()

	// Health endpoints
	mux.HandleFunc("/health/live", healthHandler.Liveness())
	mux.HandleFunc("/health/ready", healthHandler.Readiness())

	// Settings endpoints
	mux.HandleFunc("/api/v1/settings", readerHandler.Settings)
	mux.HandleFunc("/api/v1/settings/stylesheet", readerHandler.Stylesheet)

	// Library endpoints
	mux.HandleFunc("/api/v1/books", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			bookHandler.UploadBook(w, r)
		} else {
			bookHandler.ListBooks(w, r)
		}
	})
	mux.HandleFunc("/api/v1/books/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/open"):
			readerHandler.OpenSession(w, r)
		case strings.HasSuffix(path, "/cover"):
			bookHandler.GetCover(w, r)
		case strings.HasSuffix(path, "/progress"):
			readerHandler.Progress(w, r)
		case strings.HasSuffix(path, "/highlights"):
			readerHandler.ListHighlights(w, r)
		case strings.Contains(path, "/bookmarks"):
			readerHandler.Bookmarks(w, r)
		case r.Method == http.MethodDelete:
			bookHandler.DeleteBook(w, r)
		default:
			bookHandler.GetBook(w, r)
		}
	})

	// Session endpoints
	mux.HandleFunc("/api/v1/sessions/", func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		switch {
		case strings.HasSuffix(path, "/status"):
			readerHandler.GetStatus(w, r)
		case strings.Contains(path, "/sections"):
			readerHandler.GetSections(w, r)
		case strings.Contains(path, "/blobs/"):
			readerHandler.GetBlob(w, r)
		case strings.HasSuffix(path, "/restore"):
			readerHandler.Restore(w, r)
		case strings.HasSuffix(path, "/scroll"):
			readerHandler.ObserveScroll(w, r)
		case strings.HasSuffix(path, "/image") && strings.Contains(path, "/pages/"):
			readerHandler.GetPageImage(w, r)
		case strings.HasSuffix(path, "/pages"):
			readerHandler.ObservePages(w, r)
		case strings.HasSuffix(path, "/scale"):
			readerHandler.SetScale(w, r)
		case strings.Contains(path, "/highlights/") && r.Method == http.MethodDelete:
			readerHandler.DeleteHighlight(w, r)
		case strings.Contains(path, "/highlights/") && r.Method == http.MethodPatch:
			readerHandler.UpdateHighlight(w, r)
		case strings.HasSuffix(path, "/highlights"):
			readerHandler.CreateHighlight(w, r)
		case r.Method == http.MethodDelete:
			readerHandler.CloseSession(w, r)
		default:
			http.NotFound(w, r)
		}
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Printf("Server listening on %s", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	// Flush open sessions so the final reading positions are persisted.
	readerService.CloseAll()

	log.Println("Server stopped")
}
