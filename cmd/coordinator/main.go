// The coordinator binary runs C2 (ingest) and C3 (task queue) as one
// process, exposing the worker-facing and operator-facing HTTP surfaces
// separate worker and outlayerctl processes talk to.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/outlayer-net/cluster/internal/config"
	"github.com/outlayer-net/cluster/internal/coordinator"
	"github.com/outlayer-net/cluster/internal/ingest"
	"github.com/outlayer-net/cluster/internal/queue"
	"github.com/outlayer-net/cluster/internal/storage"
	"github.com/outlayer-net/cluster/pkg/utils"
)

func main() {
	config.LoadDotEnv("")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("coordinator: failed to load configuration")
	}
	configureLogging(cfg.Logging.Level)

	store := storage.NewStore()
	taskQueue := queue.New(0)
	apiKeys := queue.NewAPIKeyRegistry()
	workers := queue.NewWorkerRegistry()
	lastHeight := ingest.NewStoreLastHeight(store)

	dispatcher := &ingest.Dispatcher{
		Queue:    taskQueue,
		Storage:  store,
		Payments: ingest.NewHTTPPaymentForwarder(cfg.KeystoreBaseURL, cfg.KeystoreAuthToken),
	}
	indexer := ingest.NewHTTPIndexerClient(firstNonEmpty(cfg.NearDataAPIURL, cfg.FastNearAPIURL))
	ingestor := ingest.New(indexer, lastHeight, dispatcher, ingest.Config{
		ContractID:   cfg.ContractID,
		StandardName: "offchainvm",
		MinVersion:   "1.0.0",
		StartHeight:  cfg.StartBlockHeight,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := ingestor.Run(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Fatal("coordinator: ingestor stopped unexpectedly")
		}
	}()

	srv := &coordinator.Server{
		Queue:      taskQueue,
		APIKeys:    apiKeys,
		Workers:    workers,
		LastHeight: lastHeight,
		AuthToken:  cfg.APIAuthToken,
		Log:        logrus.WithField("component", "coordinator"),
	}

	bindAddr := utils.EnvOrDefault("COORDINATOR_BIND", ":8080")
	httpServer := &http.Server{Addr: bindAddr, Handler: srv.Router()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logrus.WithField("addr", bindAddr).Info("coordinator: listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.WithError(err).Fatal("coordinator: http server failed")
	}
}

func configureLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.JSONFormatter{})
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
