// Package ingest implements the event ingestor (C2): it follows chain
// blocks from a persisted height, scans receipt-execution-outcome logs for
// EVENT_JSON lines, and dispatches recognized events into the task queue,
// the storage service and the keystore's payment-key path.
//
// The in-process loop shape (fetch, process, advance, sleep-on-idle)
// mirrors the teacher's core/super_node.go block-processing loop, adapted
// from its own chain's block fetch to the external indexer described in
// spec §6.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/outlayer-net/cluster/pkg/utils"
)

// ErrBlockNotIndexed is returned by an IndexerClient when a block has not
// yet been produced by the indexer (a null/404 response) — not a fetch
// failure, and must not advance past retries.
var ErrBlockNotIndexed = errors.New("ingest: block not yet indexed")

// ReceiptOutcome is one receipt-execution outcome within a block, scoped to
// a single receiver account.
type ReceiptOutcome struct {
	Receiver string
	Logs     []string
}

// Block is the minimal indexer view the ingestor needs: a height and the
// receipt outcomes produced in it.
type Block struct {
	Height   uint64
	Outcomes []ReceiptOutcome
}

// IndexerClient fetches blocks from the external indexer (spec §6, out of
// scope to implement — only its observable interface is specified).
type IndexerClient interface {
	FetchBlock(ctx context.Context, height uint64) (*Block, error)
}

// LastHeightStore persists the ingestor's only durable state: the next
// height to process. Backed by C4's storage service under a reserved
// system bucket, to avoid a second persistence mechanism.
type LastHeightStore interface {
	GetLastHeight(ctx context.Context) (uint64, bool, error)
	PutLastHeight(ctx context.Context, height uint64) error
}

// Config bounds retry/progress-logging behavior (spec §4.2).
type Config struct {
	ContractID        string
	StandardName       string
	MinVersion         string
	StartHeight        uint64 // 0 resolves to "latest known" at startup
	BlockRetryAttempts int
	IdleSleep          time.Duration
	ProgressEvery      uint64
}

func (c Config) withDefaults() Config {
	if c.BlockRetryAttempts <= 0 {
		c.BlockRetryAttempts = 3
	}
	if c.IdleSleep <= 0 {
		c.IdleSleep = 2 * time.Second
	}
	if c.ProgressEvery == 0 {
		c.ProgressEvery = 1000
	}
	return c
}

// Ingestor drives the block-following loop.
type Ingestor struct {
	Indexer     IndexerClient
	LastHeight  LastHeightStore
	Dispatcher  *Dispatcher
	Config      Config
	Log         *logrus.Entry
}

// New constructs an Ingestor, applying Config defaults and a default
// logger field set if none was supplied.
func New(indexer IndexerClient, lastHeight LastHeightStore, dispatcher *Dispatcher, cfg Config) *Ingestor {
	log := logrus.WithField("component", "ingest")
	return &Ingestor{
		Indexer:    indexer,
		LastHeight: lastHeight,
		Dispatcher: dispatcher,
		Config:     cfg.withDefaults(),
		Log:        log,
	}
}

// Run follows blocks until ctx is cancelled. On restart it resumes from the
// last persisted height, falling back to Config.StartHeight (spec §4.2:
// "the ingestor is stateless except for its current block height").
func (ing *Ingestor) Run(ctx context.Context) error {
	height, err := ing.resolveStartHeight(ctx)
	if err != nil {
		return utils.Wrap(err, "resolve start height")
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		advanced, err := ing.processOne(ctx, height)
		if err != nil {
			return utils.Wrap(err, "process block")
		}
		if !advanced {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(ing.Config.IdleSleep):
			}
			continue
		}

		height++
		if err := ing.LastHeight.PutLastHeight(ctx, height); err != nil {
			return utils.Wrap(err, "persist last height")
		}
		if ing.Config.ProgressEvery > 0 && height%ing.Config.ProgressEvery == 0 {
			ing.Log.WithField("height", height).Info("ingest progress")
		}
	}
}

// resolveStartHeight resumes from the persisted height if present,
// otherwise Config.StartHeight (itself possibly 0, meaning "latest known",
// which the caller resolves by pre-populating LastHeightStore before Run).
func (ing *Ingestor) resolveStartHeight(ctx context.Context) (uint64, error) {
	h, ok, err := ing.LastHeight.GetLastHeight(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return h, nil
	}
	return ing.Config.StartHeight, nil
}

// processOne fetches and dispatches a single block height, implementing the
// retry-then-skip policy for real fetch failures (spec §4.2 step 1).
// Returns advanced=false only for "not yet indexed", which must not consume
// a retry and must not advance.
func (ing *Ingestor) processOne(ctx context.Context, height uint64) (bool, error) {
	var block *Block
	var err error

	for attempt := 0; attempt < ing.Config.BlockRetryAttempts; attempt++ {
		block, err = ing.Indexer.FetchBlock(ctx, height)
		if err == nil {
			break
		}
		if errors.Is(err, ErrBlockNotIndexed) {
			return false, nil
		}
		ing.Log.WithError(err).WithField("height", height).WithField("attempt", attempt+1).
			Warn("block fetch failed, retrying")
	}
	if err != nil && !errors.Is(err, ErrBlockNotIndexed) {
		ing.Log.WithError(err).WithField("height", height).Error("block fetch exhausted retries, skipping")
		return true, nil
	}
	if block == nil {
		return false, nil
	}

	for _, outcome := range block.Outcomes {
		if outcome.Receiver != ing.Config.ContractID {
			continue
		}
		for _, line := range outcome.Logs {
			ev, ok := parseEventLog(line)
			if !ok {
				continue
			}
			if ev.Standard != ing.Config.StandardName {
				continue
			}
			if !versionAtLeast(ev.Version, ing.Config.MinVersion) {
				continue
			}
			if err := ing.Dispatcher.Dispatch(ctx, ev); err != nil {
				ing.Log.WithError(err).WithField("event", ev.Event).WithField("height", height).
					Error("event dispatch failed")
			}
		}
	}
	return true, nil
}
