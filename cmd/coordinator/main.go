package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dyluth/drey/internal/config"
	"github.com/dyluth/drey/internal/coordinator"
	"github.com/dyluth/drey/pkg/board"
	"github.com/redis/go-redis/v9"
)

func main() {
	// 1. Load environment variables
	instanceName := os.Getenv("DREY_INSTANCE_NAME")
	redisURL := os.Getenv("REDIS_URL")

	if instanceName == "" || redisURL == "" {
		fmt.Fprintf(os.Stderr, "Error: DREY_INSTANCE_NAME and REDIS_URL must be set\n")
		os.Exit(1)
	}

	// 2. Parse Redis URL
	redisOpts, err := redis.ParseURL(redisURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid REDIS_URL: %v\n", err)
		os.Exit(1)
	}

	// 3. Create board client
	client, err := board.NewClient(redisOpts, instanceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to create board client: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	// 4. Verify Redis connectivity
	ctx := context.Background()
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Redis not accessible: %v\n", err)
		os.Exit(1)
	}

	// 5. Load drey.yml configuration; fall back to defaults when absent
	configPath := os.Getenv("DREY_CONFIG_PATH")
	if configPath == "" {
		configPath = "drey.yml"
	}

	var cfg *config.DreyConfig
	if _, statErr := os.Stat(configPath); statErr == nil {
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Failed to load %s: %v\n", configPath, err)
			os.Exit(1)
		}
	} else {
		fmt.Printf("No config at %s, using defaults\n", configPath)
		cfg = config.Default()
	}

	fmt.Printf("Coordinator starting for instance '%s'\n", instanceName)

	// 6. Assemble the coordination core
	daemon := coordinator.New(client, instanceName, cfg)

	// 7. Setup graceful shutdown
	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	// 8. Start coordinator in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- daemon.Run(runCtx)
	}()

	// 9. Wait for shutdown signal or error
	select {
	case sig := <-sigCh:
		fmt.Printf("Received signal %v, shutting down gracefully...\n", sig)
		cancel()
		<-errCh
	case runErr := <-errCh:
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "Coordinator error: %v\n", runErr)
			os.Exit(1)
		}
	}

	fmt.Println("Coordinator stopped")
}
