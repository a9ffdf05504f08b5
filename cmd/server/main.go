package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"avanevis/internal/ai"
	"avanevis/internal/api"
	"avanevis/internal/config"
	"avanevis/internal/engine"
	"avanevis/internal/queue"
	"avanevis/internal/storage"
	"avanevis/internal/store"
	"avanevis/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Set Gin mode (default to release mode)
	if os.Getenv("GIN_MODE") == "" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx := context.Background()

	// Job store: PostgreSQL when DATABASE_URL is set, in-memory otherwise.
	var jobStore store.JobStore
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Unable to connect to database: %v", err)
		}
		defer pool.Close()

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Fatalf("Failed to prepare database: %v", err)
		}
		jobStore = pg
		log.Println("Job store: PostgreSQL")
	} else {
		jobStore = store.NewMemoryStore()
		log.Println("DATABASE_URL not set, using in-memory job store")
	}

	engines, err := engine.NewRegistryFromConfig(cfg)
	if err != nil {
		log.Fatalf("Failed to configure engines: %v", err)
	}

	var cleaner queue.TranscriptCleaner
	if cfg.OpenAIKey != "" {
		cleaner = ai.NewCleaner(cfg.OpenAIKey)
		log.Println("Transcript cleanup enabled")
	}

	audio, err := storage.NewAudioStore(cfg.UploadDir)
	if err != nil {
		log.Fatalf("Failed to prepare upload directory: %v", err)
	}

	hub := ws.NewHub()
	hub.Start()

	executor := queue.NewExecutor(jobStore, engines, cleaner, cfg.EngineTimeout, cfg.CancelPoll)
	controller := queue.NewController(jobStore, executor, cfg.Workers)
	controller.SetNotifier(hub.BroadcastJobUpdate)
	coordinator := queue.NewCoordinator(jobStore, controller)

	if err := controller.Start(ctx); err != nil {
		log.Fatalf("Failed to start queue controller: %v", err)
	}

	r := gin.Default()
	r.Use(corsMiddleware())

	srv := api.NewServer(jobStore, controller, coordinator, audio, hub)
	srv.RegisterRoutes(r)

	go func() {
		log.Printf("avanevis backend running on :%s", cfg.Port)
		if err := r.Run(":" + cfg.Port); err != nil {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for termination signal, then stop dispatching new jobs.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down gracefully...")
	controller.Stop()
}

// corsMiddleware adds CORS headers for browser clients
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With, X-User-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
