package api

import (
	"net/http"
	"net/http/pprof"
	"runtime"
	"strconv"

	"mediamirror/config"
	"mediamirror/handlers"

	"github.com/gorilla/mux"
)

func itoa(i int) string      { return strconv.Itoa(i) }
func itoa64(i uint64) string { return strconv.FormatUint(i, 10) }

// localhostOnlyMiddleware restricts access to localhost requests only
func localhostOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		// Strip port if present
		for i := len(host) - 1; i >= 0; i-- {
			if host[i] == ':' {
				host = host[:i]
				break
			}
		}
		// Allow localhost, 127.0.0.1, ::1
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			http.Error(w, "Debug endpoints only accessible from localhost", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware handles CORS for API routes
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		// Handle preflight requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleOptions handles OPTIONS requests for CORS preflight
func handleOptions(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// Register mounts API endpoints onto the provided router.
func Register(
	r *mux.Router,
	configManager *config.Manager,
	settingsHandler *handlers.SettingsHandler,
	syncHandler *handlers.SyncHandler,
	usersHandler *handlers.UsersHandler,
	scheduledTasksHandler *handlers.ScheduledTasksHandler,
) {
	api := r.PathPrefix("/api").Subrouter()
	api.Use(corsMiddleware)

	// Health endpoint (public - for container orchestration probes)
	api.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}).Methods(http.MethodGet)

	// Protected routes - require the server API key when one is set
	protected := api.PathPrefix("").Subrouter()
	protected.Use(APIKeyMiddleware(configManager))

	// Settings
	protected.HandleFunc("/settings", settingsHandler.GetSettings).Methods(http.MethodGet)
	protected.HandleFunc("/settings", settingsHandler.PutSettings).Methods(http.MethodPut)
	protected.HandleFunc("/settings", handleOptions).Methods(http.MethodOptions)

	// Sync operations
	protected.HandleFunc("/sync/library", syncHandler.StartLibrarySync).Methods(http.MethodPost)
	protected.HandleFunc("/sync/library", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/sync/enrichment", syncHandler.StartEnrichment).Methods(http.MethodPost)
	protected.HandleFunc("/sync/enrichment", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/sync/watch-history", syncHandler.StartWatchHistorySync).Methods(http.MethodPost)
	protected.HandleFunc("/sync/watch-history", handleOptions).Methods(http.MethodOptions)

	// Job tracking
	protected.HandleFunc("/jobs", syncHandler.ListJobs).Methods(http.MethodGet)
	protected.HandleFunc("/jobs", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/jobs/{jobID}", syncHandler.GetJob).Methods(http.MethodGet)
	protected.HandleFunc("/jobs/{jobID}", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/jobs/{jobID}/cancel", syncHandler.CancelJob).Methods(http.MethodPost)
	protected.HandleFunc("/jobs/{jobID}/cancel", handleOptions).Methods(http.MethodOptions)

	// User management
	protected.HandleFunc("/users", usersHandler.List).Methods(http.MethodGet)
	protected.HandleFunc("/users", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/users/{userID}/enabled", usersHandler.SetEnabled).Methods(http.MethodPut)
	protected.HandleFunc("/users/{userID}/enabled", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/users/{userID}/excluded-libraries", usersHandler.SetExcludedLibraries).Methods(http.MethodPut)
	protected.HandleFunc("/users/{userID}/excluded-libraries", handleOptions).Methods(http.MethodOptions)

	// Library listing (for configuring sync scope and exclusions)
	protected.HandleFunc("/libraries", usersHandler.ListLibraries).Methods(http.MethodGet)
	protected.HandleFunc("/libraries", handleOptions).Methods(http.MethodOptions)

	// Scheduled tasks
	protected.HandleFunc("/scheduled-tasks", scheduledTasksHandler.ListTasks).Methods(http.MethodGet)
	protected.HandleFunc("/scheduled-tasks", scheduledTasksHandler.CreateTask).Methods(http.MethodPost)
	protected.HandleFunc("/scheduled-tasks", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/scheduled-tasks/{taskID}", scheduledTasksHandler.UpdateTask).Methods(http.MethodPut)
	protected.HandleFunc("/scheduled-tasks/{taskID}", scheduledTasksHandler.DeleteTask).Methods(http.MethodDelete)
	protected.HandleFunc("/scheduled-tasks/{taskID}", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/scheduled-tasks/{taskID}/run", scheduledTasksHandler.RunTaskNow).Methods(http.MethodPost)
	protected.HandleFunc("/scheduled-tasks/{taskID}/run", handleOptions).Methods(http.MethodOptions)
	protected.HandleFunc("/scheduled-tasks/{taskID}/toggle", scheduledTasksHandler.ToggleTask).Methods(http.MethodPost)
	protected.HandleFunc("/scheduled-tasks/{taskID}/toggle", handleOptions).Methods(http.MethodOptions)

	// Pprof debug endpoints for profiling (localhost only, no auth required for debugging)
	pprofRouter := api.PathPrefix("/debug/pprof").Subrouter()
	pprofRouter.Use(localhostOnlyMiddleware)
	pprofRouter.HandleFunc("/", pprof.Index)
	pprofRouter.HandleFunc("/cmdline", pprof.Cmdline)
	pprofRouter.HandleFunc("/profile", pprof.Profile)
	pprofRouter.HandleFunc("/symbol", pprof.Symbol)
	pprofRouter.HandleFunc("/trace", pprof.Trace)
	pprofRouter.HandleFunc("/allocs", pprof.Handler("allocs").ServeHTTP)
	pprofRouter.HandleFunc("/goroutine", pprof.Handler("goroutine").ServeHTTP)
	pprofRouter.HandleFunc("/heap", pprof.Handler("heap").ServeHTTP)
	pprofRouter.HandleFunc("/mutex", pprof.Handler("mutex").ServeHTTP)

	// Runtime stats endpoint (localhost only, no auth required for debugging)
	runtimeRouter := api.PathPrefix("/debug/runtime").Subrouter()
	runtimeRouter.Use(localhostOnlyMiddleware)
	runtimeRouter.HandleFunc("", func(w http.ResponseWriter, r *http.Request) {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{` +
			`"goroutines":` + itoa(runtime.NumGoroutine()) + `,` +
			`"heapAlloc":` + itoa64(m.HeapAlloc) + `,` +
			`"heapSys":` + itoa64(m.HeapSys) + `,` +
			`"heapObjects":` + itoa64(m.HeapObjects) + `,` +
			`"stackInuse":` + itoa64(m.StackInuse) + `,` +
			`"numGC":` + itoa(int(m.NumGC)) + `,` +
			`"lastGC":` + itoa64(m.LastGC) + `,` +
			`"numCPU":` + itoa(runtime.NumCPU()) +
			`}`))
	}).Methods(http.MethodGet)
}
