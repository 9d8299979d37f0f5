package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"codemapper/internal/blob"
	"codemapper/internal/cache"
	"codemapper/internal/config"
	"codemapper/internal/diagram"
	"codemapper/internal/gateway"
	"codemapper/internal/ingest"
	"codemapper/internal/llm"
	"codemapper/internal/mapper"
	"codemapper/internal/ratelimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	backend, closeBackend, err := newBackend(cfg)
	if err != nil {
		log.Fatalf("init cache backend: %v", err)
	}
	defer closeBackend()

	store, err := cache.NewStore(backend, cache.DefaultTTL)
	if err != nil {
		log.Fatalf("init cache store: %v", err)
	}

	var client llm.Client
	if cfg.GeminiAPIKey != "" {
		gemini, err := llm.NewGeminiClient(context.Background(), cfg.GeminiModel)
		if err != nil {
			log.Fatalf("init AI client: %v", err)
		}
		client = gemini
		defer client.Close()
		log.Printf("AI backend: %s", client.Name())
	} else {
		log.Printf("no AI backend configured, mappings use heuristic diagrams only")
	}

	ingestor := ingest.NewIngestor()
	var archives *blob.ArchiveStore
	if cfg.Archive.Enabled {
		s, err := blob.NewArchiveStore(blob.Config{
			Endpoint:  cfg.Archive.Endpoint,
			Region:    cfg.Archive.Region,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			log.Printf("archive retention disabled: %v", err)
		} else {
			archives = s
			ingestor.Archives = archives
			log.Printf("archive retention enabled (bucket %s)", cfg.Archive.Bucket)
		}
	}

	handlers := &gateway.Handlers{
		Pipeline: &mapper.Pipeline{
			Ingestor:     ingestor,
			Builder:      diagram.NewTemplateBuilder(),
			Store:        store,
			LLM:          client,
			SelfCritique: cfg.SelfCritique && client != nil,
		},
		Ask:     &mapper.AskEngine{Store: store, LLM: client},
		Improve: &mapper.ImproveEngine{Store: store, LLM: client},
		Limiter: ratelimit.New(store),
		Store:   store,
		Hub:     gateway.NewProgressHub(),
	}
	if archives != nil {
		// A typed nil assigned to the interface field would read as
		// configured, so only set it when the store really exists.
		handlers.Archives = archives
	}

	srv := gateway.NewServer(cfg.Port, gateway.NewMux(handlers))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server: %v", err)
		}
	case <-ctx.Done():
		log.Printf("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("shutdown: %v", err)
		}
	}
}

// newBackend picks Postgres when a DSN is configured, else the JSON file
// document next to the binary.
func newBackend(cfg *config.Config) (cache.DocumentBackend, func(), error) {
	if cfg.PostgresDSN != "" {
		pg, err := cache.NewPostgresBackend(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		log.Printf("cache backend: postgres")
		return pg, func() { _ = pg.Close() }, nil
	}
	fb, err := cache.NewFileBackend(cfg.CachePath)
	if err != nil {
		return nil, nil, err
	}
	log.Printf("cache backend: file %s", cfg.CachePath)
	return fb, func() {}, nil
}
