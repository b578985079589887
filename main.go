package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"commerce-backend/handlers"
	"commerce-backend/internal/auth"
	"commerce-backend/internal/carts"
	"commerce-backend/internal/clients"
	"commerce-backend/internal/consul"
	"commerce-backend/internal/invoices"
	"commerce-backend/internal/products"
	"commerce-backend/internal/stores/kafka"
	"commerce-backend/internal/stores/postgres"
	"commerce-backend/pkg/logkey"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		slog.Error("service terminated", slog.String(logkey.ERROR, err.Error()))
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil {
		slog.Warn("no .env file found, relying on the environment")
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	db, err := postgres.OpenDB()
	if err != nil {
		return fmt.Errorf("failed to connect to the database: %w", err)
	}
	defer db.Close()

	if err := postgres.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to migrate the database: %w", err)
	}

	publicPEM, err := os.ReadFile(getEnv("AUTH_PUBLIC_KEY_FILE", "keys/public.pem"))
	if err != nil {
		return fmt.Errorf("failed to read auth public key: %w", err)
	}
	keys, err := auth.NewKeys(publicPEM)
	if err != nil {
		return fmt.Errorf("failed to load auth keys: %w", err)
	}

	clConf, err := clients.NewConf(db)
	if err != nil {
		return err
	}
	pConf, err := products.NewConf(db)
	if err != nil {
		return err
	}
	cConf, err := carts.NewConf(db)
	if err != nil {
		return err
	}
	iConf, err := invoices.NewConf(db)
	if err != nil {
		return err
	}

	var k *kafka.Conf
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		k, err = kafka.NewConf(brokers)
		if err != nil {
			return fmt.Errorf("failed to connect to kafka: %w", err)
		}
		defer k.Close()
	} else {
		slog.Warn("KAFKA_BROKERS not set, event publishing disabled")
	}

	port, err := strconv.Atoi(getEnv("APP_PORT", "8085"))
	if err != nil {
		return fmt.Errorf("invalid APP_PORT: %w", err)
	}

	if os.Getenv("CONSUL_HTTP_ADDR") != "" {
		consulClient, err := consul.NewConsulClient()
		if err != nil {
			return err
		}
		serviceName := getEnv("SERVICE_NAME", "commerce-backend")
		serviceID := serviceName + "-" + uuid.NewString()
		address := getEnv("SERVICE_HOST", "localhost")
		if err := consul.RegisterService(consulClient, serviceID, serviceName, address, port); err != nil {
			return err
		}
		defer func() {
			if err := consul.Deregister(consulClient, serviceID); err != nil {
				slog.Error("consul deregistration failed", slog.String(logkey.ERROR, err.Error()))
			}
		}()
		slog.Info("registered with consul", slog.String("ServiceID", serviceID))
	}

	// Cleanup sweep: release stock of carts abandoned past the retention
	// window, on a fixed interval.
	retention := carts.DefaultRetention
	if v := os.Getenv("CART_RETENTION"); v != "" {
		retention, err = time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CART_RETENTION: %w", err)
		}
	}
	sweepInterval := time.Hour
	if v := os.Getenv("CART_CLEANUP_INTERVAL"); v != "" {
		sweepInterval, err = time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CART_CLEANUP_INTERVAL: %w", err)
		}
	}
	sweepCtx, stopSweep := context.WithCancel(context.Background())
	defer stopSweep()
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				removed, err := cConf.RemoveInactiveCarts(sweepCtx, retention)
				if err != nil {
					slog.Error("cart cleanup sweep failed", slog.String(logkey.ERROR, err.Error()))
					continue
				}
				if k == nil {
					continue
				}
				for _, cartID := range removed {
					event := kafka.CartRemovedEvent{CartID: cartID, RemovedAt: time.Now()}
					payload, err := json.Marshal(event)
					if err != nil {
						slog.Error("failed to marshal cart removed event", slog.String(logkey.ERROR, err.Error()))
						continue
					}
					key := []byte(strconv.FormatInt(cartID, 10))
					if err := k.ProduceMessage(kafka.TopicCartRemoved, key, payload); err != nil {
						slog.Error("failed to publish cart removed event",
							slog.String(logkey.ERROR, err.Error()), slog.Int64(logkey.CartID, cartID))
					}
				}
			}
		}
	}()

	prefix := getEnv("SERVICE_ENDPOINT_PREFIX", "/api/v1")
	api, err := handlers.API(prefix, keys, clConf, pConf, cConf, iConf, k)
	if err != nil {
		return fmt.Errorf("failed to build the API: %w", err)
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	serverErrors := make(chan error, 1)
	go func() {
		slog.Info("server started", slog.String("Addr", server.Addr))
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		slog.Info("shutdown started", slog.String("Signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			_ = server.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
