package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-otc-api/internal/config"
	"github.com/go-otc-api/internal/infrastructure/dynamo"
	jwtinfra "github.com/go-otc-api/internal/infrastructure/jwt"
	"github.com/go-otc-api/internal/infrastructure/smtp"
	"github.com/go-otc-api/internal/infrastructure/sns"
	transporthttp "github.com/go-otc-api/internal/transport/http"
	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}

	cfg := config.Load()

	// Bootstrap DynamoDB tables (creates them if they don't exist).
	dynamoClient := dynamo.NewClient(cfg)
	dynamo.Bootstrap(context.Background(), dynamoClient, cfg.DynamoTables)

	// JWT provider (optional — signup completion works without tokens).
	var jwtProvider *jwtinfra.Provider
	if p, err := jwtinfra.NewProvider(cfg); err == nil {
		jwtProvider = p
	} else {
		log.Printf("WARN: JWT provider not available: %v", err)
	}

	// SMTP mailer.
	mailer := smtp.NewMailer(cfg)

	// SNS ops alert publisher (optional — graceful fallback).
	var alerts sns.AlertPublisher
	if cfg.SNSAlertTopicARN != "" {
		if p, err := sns.NewPublisher(cfg); err == nil {
			alerts = p
		} else {
			log.Printf("WARN: SNS alert publisher not available: %v", err)
		}
	}

	deps := &transporthttp.Deps{
		ChallengeRepo: dynamo.NewChallengeRepo(dynamoClient, cfg.DynamoTables.Challenges),
		AccountRepo:   dynamo.NewAccountRepo(dynamoClient, cfg.DynamoTables.Accounts),
		ProfileRepo:   dynamo.NewProfileRepo(dynamoClient, cfg.DynamoTables.Profiles),
		Mailer:        mailer,
		Alerts:        alerts,
		JWTProvider:   jwtProvider,
	}

	router := transporthttp.NewRouter(cfg, deps)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.AppPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Server starting on :%s (env=%s)", cfg.AppPort, cfg.AppEnv)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
