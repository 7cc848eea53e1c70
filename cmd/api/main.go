// cmd/api/main.go
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	r "gopkg.in/rethinkdb/rethinkdb-go.v6"

	"delay-predictor/internal/api"
	"delay-predictor/internal/config"
	"delay-predictor/internal/infrastructure"
	"delay-predictor/internal/prediction"
	"delay-predictor/internal/repository"
)

func main() {
	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("=== Starting Delay Predictor API ===")

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rethinkSession, err := connectToRethinkDB(cfg, log)
	if err != nil {
		log.Fatal("failed to connect to RethinkDB", zap.Error(err))
	}
	defer rethinkSession.Close()
	log.Info("connected to RethinkDB")

	repo := repository.NewModelRepository(rethinkSession, cfg.ModelTable)

	cache := prediction.NewCache()
	reloader := prediction.NewReloader(cache, repo, cfg.ModelMaxAge, cfg.ReloadInterval, log)
	if err := reloader.Start(ctx); err != nil {
		log.Fatal("failed to start model reloader", zap.Error(err))
	}
	defer reloader.Stop()

	decoder := infrastructure.NewRecordDecoder(log)
	apiServer := api.NewServer(cache, decoder, repo, cfg, log)

	healthServer := startHealthServer(cfg.HealthPort, rethinkSession, log)

	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- apiServer.Start()
	}()

	waitForShutdown(cancel, apiServer, healthServer, serverErrors, log)

	log.Info("=== API Server Stopped Gracefully ===")
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
			if testErr := testRethinkDBConnection(session); testErr == nil {
				return session, nil
			}
			session.Close()
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

func testRethinkDBConnection(session *r.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cursor, err := r.Now().Run(session, r.RunOpts{Context: ctx})
	if err != nil {
		return fmt.Errorf("connection test failed: %w", err)
	}
	defer cursor.Close()

	var result time.Time
	if err := cursor.One(&result); err != nil {
		return fmt.Errorf("failed to read server time: %w", err)
	}

	return nil
}

func startHealthServer(port string, session *r.Session, log *zap.Logger) *http.Server {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, rr *http.Request) {
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
		fmt.Fprintf(w, `{"status":"healthy","service":"api","timestamp":"%s"}`,
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

func waitForShutdown(cancel context.CancelFunc, apiServer *api.Server,
	healthServer *http.Server, serverErrors chan error, log *zap.Logger) {

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Error("server error", zap.Error(err))
		}
		cancel()

	case sig := <-osSignals:
		log.Info("received signal, starting graceful shutdown", zap.String("signal", sig.String()))
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("API server shutdown error", zap.Error(err))
		}
		if healthServer != nil {
			if err := healthServer.Shutdown(shutdownCtx); err != nil {
				log.Error("health server shutdown error", zap.Error(err))
			}
		}
	}
}
