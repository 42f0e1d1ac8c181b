package chain

import (
	"context"
	"encoding/json"

	"github.com/outlayer-net/cluster/pkg/utils"
)

// Raw issues an arbitrary JSON-RPC method against the configured endpoint,
// returning the result verbatim. It backs the long tail of read-only RPC
// verbs (view_state, chunk, changes, gas_price, status, network_info,
// validators, receipt) that the guest host surface exposes but that don't
// warrant a typed wrapper of their own (spec §4.7 host surface / §6 chain
// contract observed API).
func (c *Client) Raw(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.call(ctx, method, params, &out); err != nil {
		return nil, utils.Wrap(err, "raw "+method)
	}
	return out, nil
}
