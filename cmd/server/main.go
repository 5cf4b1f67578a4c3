/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the AMC engine server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (if present) and parse command-line flags
  2. Initialize SQLite store
  3. Build the asset directory
  4. Wire the engine, handler, and router
  5. Start server with graceful shutdown

CONFIGURATION:
  Flags take precedence over environment variables. godotenv loads a
  local .env file into the environment first, so a checked-in .env can
  carry development defaults.

  -port / PORT          HTTP server port (default: 8080)
  -db / DB_PATH         SQLite database path (default: amc.db)
                        Use ":memory:" for an in-memory database
  -assets / ASSETS_FILE JSON file seeding the asset directory; when
                        unset, every asset id resolves

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/amc.db"

  # Run with in-memory database and a seeded asset directory
  ./server -db=":memory:" -assets="./assets.json"

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/warp/amc-engine/amc"
	"github.com/warp/amc-engine/api"
	"github.com/warp/amc-engine/store/sqlite"
)

func main() {
	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	port := flag.Int("port", envInt("PORT", 8080), "HTTP server port")
	dbPath := flag.String("db", envStr("DB_PATH", "amc.db"), "SQLite database path")
	assetsFile := flag.String("assets", envStr("ASSETS_FILE", ""), "JSON file seeding the asset directory")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Asset directory: seeded and strict when a file is given, otherwise
	// permissive so the engine runs without an inventory export.
	directory, err := buildDirectory(*assetsFile)
	if err != nil {
		log.Fatalf("Failed to load asset directory: %v", err)
	}

	engine := amc.NewEngine(store, directory, amc.LogNotifier{})
	handler := api.NewHandler(engine)
	router := api.NewRouter(handler, nil)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

// buildDirectory loads {"department": ["asset-id", ...]} from a JSON file.
func buildDirectory(path string) (amc.AssetDirectory, error) {
	if path == "" {
		return amc.PermissiveDirectory{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var seed map[amc.Department][]string
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dir := amc.NewStaticDirectory()
	for dept, ids := range seed {
		if !dept.Valid() {
			return nil, fmt.Errorf("unknown department %q in %s", dept, path)
		}
		dir.Add(dept, ids...)
	}
	return dir, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
