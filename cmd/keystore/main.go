// The keystore binary is C5 running as its own process: the only process
// that ever holds the TEE-derived master secret, reached by the
// coordinator and workers exclusively over its HTTP surface.
package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/internal/config"
	"github.com/outlayer-net/cluster/internal/keystore"
	"github.com/outlayer-net/cluster/internal/storage"
	"github.com/outlayer-net/cluster/pkg/utils"
)

func main() {
	config.LoadDotEnv("")
	cfg, err := config.LoadFromEnv()
	if err != nil {
		logrus.WithError(err).Fatal("keystore: failed to load configuration")
	}
	configureLogging(cfg.Logging.Level)

	chainClient := chain.NewClient(cfg.NearRPCURL, chain.WithTransactionsAllowed(true))
	store := storage.NewStore()
	ks := keystore.New(nil)

	var attestor keystore.Attestor
	if cfg.TEEMode == "none" || cfg.TEEMode == "" {
		attestor = keystore.SimulatedAttestor{}
	} else {
		// No real TDX/SGX/SEV quoting library exists anywhere in the pack to
		// ground a hardware attestor on; simulated quoting is used until one
		// is available (see DESIGN.md).
		attestor = keystore.SimulatedAttestor{}
	}

	if cfg.UseTEERegistration {
		initSigner, err := chain.SignerFromPrivateKey(cfg.InitAccountID, cfg.InitAccountPrivateKey)
		if err != nil {
			logrus.WithError(err).Fatal("keystore: failed to parse init account private key")
		}
		registrar := keystore.ChainRegistrar{Client: chainClient, Signer: initSigner, DaoContract: cfg.RegisterContractID}
		ckd := keystore.ChainCKDClient{Client: chainClient, Signer: initSigner, MpcContract: utils.EnvOrDefault("MPC_CONTRACT_ID", cfg.RegisterContractID)}
		bootstrap := keystore.NewBootstrap(ks, attestor, registrar, ckd, keystore.BootstrapConfig{})

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go func() {
			if err := bootstrap.Run(ctx); err != nil {
				logrus.WithError(err).Fatal("keystore: bootstrap failed")
			}
		}()
	} else {
		// No DAO registration configured: trust a locally-provided seed,
		// e.g. for a development deployment with tee_mode=none.
		ks.SetReady(true)
		logrus.Warn("keystore: USE_TEE_REGISTRATION is disabled, starting ready with an empty seed")
	}

	operatorSigner, err := chain.SignerFromPrivateKey(cfg.OperatorAccountID, cfg.OperatorPrivateKey)
	if err != nil {
		logrus.WithError(err).Fatal("keystore: failed to parse operator private key")
	}

	srv := &keystore.Server{
		KS:                 ks,
		Profiles:           &keystore.ChainProfileReader{Chain: chainClient, ContractID: cfg.ContractID},
		Chain:              chainClient,
		Expected:           keystore.ExpectedMeasurements{},
		TeeMode:            cfg.TEEMode,
		AllowedTokenHashes: tokenHashSet(cfg.KeystoreAuthToken),
		Payments: &keystore.PaymentKeyResumer{
			KS:       ks,
			Store:    keystore.NewStorePaymentKeyStore(store),
			Chain:    chainClient,
			Operator: operatorSigner,
			Contract: cfg.ContractID,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bindAddr := utils.EnvOrDefault("KEYSTORE_BIND", ":8082")
	httpServer := &http.Server{Addr: bindAddr, Handler: srv.Router()}

	go func() {
		<-ctx.Done()
		_ = httpServer.Close()
	}()

	logrus.WithField("addr", bindAddr).Info("keystore: listening")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logrus.WithError(err).Fatal("keystore: http server failed")
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

// tokenHashSet supports a comma-separated KEYSTORE_AUTH_TOKEN list so the
// coordinator and any operator tooling can each carry a distinct token.
func tokenHashSet(tokens string) map[string]bool {
	out := map[string]bool{}
	for _, tok := range strings.Split(tokens, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		sum := sha256.Sum256([]byte(tok))
		out[hex.EncodeToString(sum[:])] = true
	}
	return out
}
