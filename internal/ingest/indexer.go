package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/outlayer-net/cluster/pkg/utils"
)

// HTTPIndexerClient fetches blocks from the neardata/fastnear-style indexer
// HTTP API (spec §6, NEARDATA_API_URL/FASTNEAR_API_URL). The pooled client
// mirrors internal/chain.Client's own reuse of idle connections (teacher:
// core/connection_pool.go).
type HTTPIndexerClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHTTPIndexerClient(baseURL string) *HTTPIndexerClient {
	return &HTTPIndexerClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        64,
				MaxIdleConnsPerHost: 16,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

type indexerBlock struct {
	Shards []struct {
		ReceiptExecutionOutcomes []struct {
			Receipt struct {
				ReceiverId string `json:"receiver_id"`
			} `json:"receipt"`
			ExecutionOutcome struct {
				Outcome struct {
					Logs []string `json:"logs"`
				} `json:"outcome"`
			} `json:"execution_outcome"`
		} `json:"receipt_execution_outcomes"`
	} `json:"shards"`
}

// FetchBlock implements IndexerClient. A literal JSON "null" body, or an
// HTTP 404, means "not yet indexed" (spec §4.2 step 1) and is reported as
// ErrBlockNotIndexed rather than a fetch error.
func (c *HTTPIndexerClient) FetchBlock(ctx context.Context, height uint64) (*Block, error) {
	url := fmt.Sprintf("%s/v0/block/%d", c.baseURL, height)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, utils.Wrap(err, "build indexer request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, utils.Wrap(err, "fetch block "+fmt.Sprint(height))
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrBlockNotIndexed
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ingest: indexer returned status %d for block %d", resp.StatusCode, height)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, utils.Wrap(err, "decode indexer response")
	}
	if string(raw) == "null" {
		return nil, ErrBlockNotIndexed
	}

	var ib indexerBlock
	if err := json.Unmarshal(raw, &ib); err != nil {
		return nil, utils.Wrap(err, "decode block body")
	}

	block := &Block{Height: height}
	for _, shard := range ib.Shards {
		for _, outcome := range shard.ReceiptExecutionOutcomes {
			block.Outcomes = append(block.Outcomes, ReceiptOutcome{
				Receiver: outcome.Receipt.ReceiverId,
				Logs:     outcome.ExecutionOutcome.Outcome.Logs,
			})
		}
	}
	return block, nil
}
