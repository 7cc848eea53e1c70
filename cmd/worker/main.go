// cmd/worker/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"delay-predictor/internal/aggregator"
	"delay-predictor/internal/config"
	"delay-predictor/internal/infrastructure"
	"delay-predictor/internal/messaging"
	"delay-predictor/internal/repository"
	"delay-predictor/internal/worker"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("=== Starting Delay Predictor Worker ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}
	logConfig(log, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rethinkSession, err := connectToRethinkDB(cfg, log)
	if err != nil {
		log.Fatal("failed to connect to RethinkDB", zap.Error(err))
	}
	defer rethinkSession.Close()
	log.Info("connected to RethinkDB")

	if err := setupDatabase(rethinkSession, cfg.DBName, cfg.ModelTable, log); err != nil {
		log.Fatal("failed to setup database", zap.Error(err))
	}

	redisClient, err := connectToRedis(cfg, log)
	if err != nil {
		log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer redisClient.Close()
	log.Info("connected to Redis")

	repo := repository.NewModelRepository(rethinkSession, cfg.ModelTable)
	store := aggregator.NewStore(log)
	decoder := infrastructure.NewRecordDecoder(log)

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%d", hostname, os.Getpid())
	w := worker.NewWorker(workerID, store, decoder, repo, redisClient, cfg, log)

	healthServer := startHealthServer(cfg.HealthPort, redisClient, rethinkSession, log)

	go func() {
		if err := w.Start(ctx); err != nil {
			log.Error("worker stopped with error", zap.Error(err))
		}
	}()
	log.Info("worker started", zap.String("id", workerID))

	waitForShutdown(cancel, w, healthServer, log)

	log.Info("=== Worker stopped gracefully ===")
}

func logConfig(log *zap.Logger, cfg *config.Config) {
	log.Info("configuration",
		zap.String("redis_url", cfg.RedisURL),
		zap.String("response_stream", cfg.ResponseStream),
		zap.String("request_stream", cfg.RequestStream),
		zap.String("consumer_group", cfg.ConsumerGroup),
		zap.String("rethinkdb_url", cfg.RethinkDBURL),
		zap.String("db", cfg.DBName),
		zap.String("model_table", cfg.ModelTable),
		zap.String("health_port", cfg.HealthPort),
		zap.Duration("request_interval", cfg.RequestInterval),
		zap.Duration("train_timeout", cfg.TrainTimeout))
}

func connectToRethinkDB(cfg *config.Config, log *zap.Logger) (*r.Session, error) {
	maxRetries := 10
	var session *r.Session
	var err error

	for i := 1; i <= maxRetries; i++ {
		log.Info("connecting to RethinkDB", zap.Int("attempt", i), zap.Int("max", maxRetries))

		session, err = r.Connect(r.ConnectOpts{
			Address:    cfg.RethinkDBURL,
			Database:   cfg.DBName,
			MaxOpen:    20,
			InitialCap: 5,
			Timeout:    10 * time.Second,
		})
		if err == nil {
			return session, nil
		}

		if i < maxRetries {
			waitTime := time.Duration(i) * 2 * time.Second
			log.Warn("connection failed, retrying",
				zap.Error(err), zap.Duration("wait", waitTime))
			time.Sleep(waitTime)
		}
	}

	return nil, fmt.Errorf("failed to connect to RethinkDB after %d attempts: %w", maxRetries, err)
}

func setupDatabase(session *r.Session, dbName, tableName string, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	runOpts := r.RunOpts{Context: ctx}

	cursor, err := r.DBList().Run(session, runOpts)
	if err != nil {
		return fmt.Errorf("failed to list databases: %w", err)
	}
	var dbList []string
	if err := cursor.All(&dbList); err != nil {
		return fmt.Errorf("failed to read database list: %w", err)
	}

	if !contains(dbList, dbName) {
		log.Info("creating database", zap.String("db", dbName))
		if _, err := r.DBCreate(dbName).RunWrite(session, runOpts); err != nil {
			return fmt.Errorf("failed to create database: %w", err)
		}
	}
	session.Use(dbName)

	cursor, err = r.TableList().Run(session, runOpts)
	if err != nil {
		return fmt.Errorf("failed to list tables: %w", err)
	}
	var tableList []string
	if err := cursor.All(&tableList); err != nil {
		return fmt.Errorf("failed to read table list: %w", err)
	}

	if !contains(tableList, tableName) {
		log.Info("creating table", zap.String("table", tableName))
		if _, err := r.TableCreate(tableName).RunWrite(session, runOpts); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}

		time.Sleep(1 * time.Second)

		for _, index := range []string{"delay_type", "created_at"} {
			_, err := r.Table(tableName).IndexCreate(index).RunWrite(session, runOpts)
			if err != nil && !strings.Contains(err.Error(), "already exists") {
				log.Warn("failed to create index", zap.String("index", index), zap.Error(err))
			}
		}
		if _, err := r.Table(tableName).IndexWait().RunWrite(session, runOpts); err != nil {
			log.Warn("failed to wait for indexes", zap.Error(err))
		}
	}

	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func connectToRedis(cfg *config.Config, log *zap.Logger) (messaging.MessageClient, error) {
	maxRetries := 10
	var client messaging.MessageClient
	var err error

	for i := 1; i <= maxRetries; i++ {
		log.Info("connecting to Redis", zap.Int("attempt", i), zap.Int("max", maxRetries))

		client, err = messaging.NewRedisClient(
			cfg.RedisURL,
			cfg.RedisPassword,
			cfg.RedisDB,
			cfg.ResponseStream,
			cfg.RequestStream,
			cfg.ConsumerGroup,
			log,
		)
		if err == nil {
			return client, nil
		}

		if i < maxRetries {
			waitTime := time.Duration(i) * 2 * time.Second
			log.Warn("connection failed, retrying",
				zap.Error(err), zap.Duration("wait", waitTime))
			time.Sleep(waitTime)
		}
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts: %w", maxRetries, err)
}

func startHealthServer(port string, msgClient messaging.MessageClient, session *r.Session, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, rr *http.Request) {
		if err := msgClient.HealthCheck(); err != nil {
			http.Error(w, fmt.Sprintf("Redis: %v", err), http.StatusServiceUnavailable)
			return
		}

		ctx, cancel := context.WithTimeout(rr.Context(), 3*time.Second)
		defer cancel()

		cursor, err := r.Expr(1).Run(session, r.RunOpts{Context: ctx})
		if err != nil {
			http.Error(w, fmt.Sprintf("RethinkDB: %v", err), http.StatusServiceUnavailable)
			return
		}
		cursor.Close()

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"worker","timestamp":"%s"}`,
			time.Now().UTC().Format(time.RFC3339))
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	server := &http.Server{
		Addr:         port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("health server listening", zap.String("port", port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("health server error", zap.Error(err))
		}
	}()

	return server
}

func waitForShutdown(cancel context.CancelFunc, w *worker.Worker, healthServer *http.Server, log *zap.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))

	cancel()
	w.Stop()

	if healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			log.Error("health server shutdown error", zap.Error(err))
		}
	}

	select {
	case sig := <-sigChan:
		log.Warn("received second signal, forcing shutdown", zap.String("signal", sig.String()))
	case <-time.After(10 * time.Second):
	}

	log.Info("shutdown completed")
}
