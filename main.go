package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"mediamirror/api"
	"mediamirror/config"
	"mediamirror/handlers"
	"mediamirror/internal/database"
	"mediamirror/services/enrich"
	"mediamirror/services/jellyfin"
	"mediamirror/services/jobs"
	"mediamirror/services/mdblist"
	"mediamirror/services/scheduler"
	syncsvc "mediamirror/services/sync"
	"mediamirror/utils"

	"github.com/gorilla/mux"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	portOverride := flag.Int("port", 0, "override server port from config")
	flag.Parse()

	fmt.Println("🚀 mediamirror Starting...")

	// Determine config path (env or default)
	configPath := os.Getenv("MEDIAMIRROR_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	// Init config manager and load settings (creates defaults if missing)
	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	// Set up file logging with rotation
	if settings.Log.File != "" {
		logDir := filepath.Dir(settings.Log.File)
		if err := os.MkdirAll(logDir, 0755); err != nil {
			log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		} else {
			fileWriter := &lumberjack.Logger{
				Filename:   settings.Log.File,
				MaxSize:    settings.Log.MaxSize,
				MaxBackups: settings.Log.MaxBackups,
				MaxAge:     settings.Log.MaxAge,
				Compress:   settings.Log.Compress,
			}
			// Redirect standard log to both console and file
			multiWriter := io.MultiWriter(os.Stdout, fileWriter)
			log.SetOutput(multiWriter)
			log.SetFlags(log.LstdFlags | log.Lshortfile)
			log.Printf("Logging to file: %s", settings.Log.File)
		}
	}

	// Apply port override if specified
	if *portOverride > 0 {
		settings.Server.Port = *portOverride
	}

	// Generate server API key if missing
	settings.Server.APIKey = strings.TrimSpace(settings.Server.APIKey)
	if settings.Server.APIKey == "" {
		key, err := utils.GenerateAPIKey()
		if err != nil {
			log.Fatalf("failed to generate API key: %v", err)
		}
		settings.Server.APIKey = key
		if err := cfgManager.Save(settings); err != nil {
			log.Fatalf("failed to persist generated API key: %v", err)
		}
		fmt.Println("🔑 Generated a new server API key.")
	}
	fmt.Printf("🔑 API key: %s\n", settings.Server.APIKey)

	// Connect to Postgres and apply migrations
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(ctx, settings.Database.URL, settings.Database.MaxConns)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(settings.Database.URL); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Job tracker with TTL eviction of finished jobs
	retention := time.Duration(settings.Sync.JobRetentionMinutes) * time.Minute
	tracker := jobs.NewService(retention)
	tracker.Start(ctx)
	defer tracker.Stop()

	// Provider clients
	jellyfinClient := jellyfin.NewClient(settings.Jellyfin.URL, settings.Jellyfin.APIKey)
	if jellyfinClient.Configured() {
		pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		if err := jellyfinClient.Ping(pingCtx); err != nil {
			log.Printf("warning: jellyfin ping failed: %v", err)
		}
		cancel()
	} else {
		log.Printf("warning: jellyfin not configured; sync is disabled until settings are saved")
	}

	tierTTL := time.Duration(settings.MDBList.TierRefreshMinutes) * time.Minute
	mdblistClient := mdblist.NewClient(settings.MDBList.APIKey, tierTTL, db)

	// Services
	enrichService := enrich.NewService(db, mdblistClient, tracker,
		settings.MDBList.BatchSize, settings.Sync.MarkFailedBatchesProcessed)
	syncService := syncsvc.NewService(db, jellyfinClient, tracker, enrichService, cfgManager)
	schedulerService := scheduler.NewService(cfgManager, syncService, tracker)
	if err := schedulerService.Start(ctx); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}

	// Handlers and routes
	settingsHandler := handlers.NewSettingsHandler(cfgManager)
	settingsHandler.SetJellyfinClient(jellyfinClient)
	settingsHandler.SetMDBListClient(mdblistClient)
	syncHandler := handlers.NewSyncHandler(syncService, tracker)
	usersHandler := handlers.NewUsersHandler(db, jellyfinClient)
	scheduledTasksHandler := handlers.NewScheduledTasksHandler(cfgManager, schedulerService)

	r := mux.NewRouter()
	api.Register(r, cfgManager, settingsHandler, syncHandler, usersHandler, scheduledTasksHandler)

	addr := fmt.Sprintf("%s:%d", settings.Server.Host, settings.Server.Port)
	fmt.Printf("Server starting on %s\n", addr)

	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	log.Println("🛑 Shutdown signal received, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Scheduler first so no new jobs start while the server drains
	if err := schedulerService.Stop(shutdownCtx); err != nil {
		log.Printf("Scheduler shutdown error: %v", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	log.Println("✅ Shutdown complete")
}
