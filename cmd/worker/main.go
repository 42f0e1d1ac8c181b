// The worker binary drives C6 (task lifecycle) and C7 (WASM execution) as
// one process, leasing tasks from a remote coordinator over HTTP rather
// than sharing its in-process queue - spec's scheduling model runs the
// coordinator and every worker as separate processes.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/internal/config"
	"github.com/outlayer-net/cluster/internal/keystore"
	"github.com/outlayer-net/cluster/internal/storage"
	"github.com/outlayer-net/cluster/internal/vm"
	"github.com/outlayer-net/cluster/internal/worker"
	"github.com/outlayer-net/cluster/pkg/utils"
)

func main() {
	config.LoadDotEnv("")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("worker: failed to load configuration")
	}
	configureLogging(cfg.Logging.Level)

	chainClient := chain.NewClient(cfg.NearRPCURL, chain.WithTransactionsAllowed(cfg.RPCProxyAllowTransactions))
	signer, err := chain.SignerFromPrivateKey(cfg.OperatorAccountID, cfg.OperatorPrivateKey)
	if err != nil {
		logrus.WithError(err).Fatal("worker: failed to parse operator private key")
	}

	// Every worker process keeps its own local storage service: C7's guest
	// storage host and C6's compile cache both depend on *storage.Store
	// directly rather than a network seam, so state written here is not
	// shared with the coordinator's or another worker's store (see
	// DESIGN.md).
	store := storage.NewStore()

	cacheSigner, err := keystore.NewCacheSigner()
	if err != nil {
		logrus.WithError(err).Fatal("worker: failed to generate cache signing key")
	}
	compileCache := vm.NewCache(cacheSigner, 512*1024*1024)

	engine := vm.New(vm.Engine{
		Chain:   chainClient,
		Storage: store,
		Cache:   compileCache,
		Config: vm.Config{
			HTTPAllowlist: splitCSV(utils.EnvOrDefault("WORKER_HTTP_ALLOWLIST", "")),
		},
	})

	var compiler worker.Compiler
	switch cfg.CompilationMode {
	case "native":
		compiler = &worker.NativeCompiler{
			WasiSdkCC:     utils.EnvOrDefault("WASI_SDK_CC", ""),
			WasiSdkAR:     utils.EnvOrDefault("WASI_SDK_AR", ""),
			WasiSdkLinker: utils.EnvOrDefault("WASI_SDK_LINKER", ""),
		}
	default:
		compiler = &worker.DockerCompiler{Image: utils.EnvOrDefault("WORKER_DOCKER_IMAGE", "outlayer/rust-wasi-builder:latest")}
	}

	caps := worker.Capabilities{
		Compilation:   cfg.CompilationEnabled,
		Execution:     cfg.ExecutionEnabled,
		NativeCompile: cfg.CompilationMode == "native",
	}

	ctrl, err := worker.New(worker.Controller{
		Queue:    worker.NewHTTPQueue(cfg.APIBaseURL, cfg.APIAuthToken),
		Caps:     caps,
		Compiler: compiler,
		Cache:    worker.NewStoreCacheStore(store),
		Secrets:  worker.NewHTTPSecretsClient(cfg.KeystoreBaseURL),
		Projects: &worker.ChainProjectResolver{Chain: chainClient, ContractID: cfg.ContractID},
		Executor: engine,
		Chain:    chainClient,
		Resolver: &worker.Resolver{Chain: chainClient, Signer: signer, ContractID: cfg.ContractID},
		Config:   worker.Config{WorkerId: utils.EnvOrDefault("WORKER_ID", signer.AccountId)},
	})
	if err != nil {
		logrus.WithError(err).Fatal("worker: failed to construct controller")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logrus.WithField("worker_id", ctrl.Config.WorkerId).Info("worker: starting")
	if err := ctrl.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("worker: controller stopped unexpectedly")
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

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}
