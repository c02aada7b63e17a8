package main

import (
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/BVStecnologia/Healt-Solution-sub001/internal/config"
	"github.com/BVStecnologia/Healt-Solution-sub001/router"
	"github.com/BVStecnologia/Healt-Solution-sub001/services"
	"github.com/BVStecnologia/Healt-Solution-sub001/workers"
)

func main() {
	log.Println("Starting notification automation service...")

	// Load Config
	configPath := os.Getenv("CONFIG_PATH")

	if err := config.LoadConfig(configPath); err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Database connection
	if config.App.DatabaseURL == "" {
		log.Fatal("DATABASE_URL environment variable (or config) is required")
	}

	pg, err := sql.Open("postgres", config.App.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pg.Close()

	// Test database connection
	if err := pg.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}

	// Set timezone to UTC for consistent time handling
	if _, err := pg.Exec("SET TIME ZONE 'UTC'"); err != nil {
		log.Printf("Failed to set timezone to UTC: %v", err)
	}

	log.Println("  Connected to database successfully")

	// Initialize services
	gatewayService := services.NewGatewayService(config.App.Gateway.URL, config.App.Gateway.APIKey)
	ruleService := services.NewRuleService(pg)
	templateService := services.NewTemplateService(pg, config.App.DefaultLanguage)
	handoffService := services.NewHandoffService(pg, config.App.HandoffTimeout)

	// Populate the handoff membership set before anything can consult it.
	if err := handoffService.Load(); err != nil {
		log.Fatalf("Failed to load handoff sessions: %v", err)
	}

	// Initialize workers
	reminderWorker := workers.NewReminderWorker(pg, ruleService, templateService, gatewayService, config.App.TickInterval())
	noShowWorker := workers.NewNoShowWorker(pg, templateService, gatewayService, config.App.GraceMinutes)
	retryWorker := workers.NewRetryWorker(pg, gatewayService)

	scheduler := workers.NewScheduler(reminderWorker, noShowWorker, retryWorker, handoffService,
		config.App.TickMinutes, config.App.InitialDelay())
	if err := scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer scheduler.Stop()

	// Admin/ops HTTP surface
	r := router.NewGinRouter(pg, handoffService, gatewayService, scheduler)
	go func() {
		if err := r.Run(":" + config.App.Port); err != nil {
			log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()

	// Wait for interrupt signal
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	log.Println("Service started successfully. Press Ctrl+C to stop.")
	<-c

	log.Println("Shutting down...")
}
