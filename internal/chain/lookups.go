package chain

import (
	"context"
	"encoding/json"
	"math/big"

	"github.com/outlayer-net/cluster/pkg/utils"
)

// This file implements access.ChainLookup against the adapter's View
// primitive, so AccessCondition evaluation (internal/access) never needs
// its own RPC plumbing.

// FTBalanceOf calls the NEP-141 fungible token contract's ft_balance_of.
func (c *Client) FTBalanceOf(ctx context.Context, ftContract, accountId string) (*big.Int, error) {
	args, _ := json.Marshal(map[string]string{"account_id": accountId})
	raw, err := c.View(ctx, ftContract, "ft_balance_of", args, BlockRef{Finality: FinalityOptimistic})
	if err != nil {
		return nil, utils.Wrap(err, "ft_balance_of")
	}
	var balanceStr string
	if err := json.Unmarshal(raw, &balanceStr); err != nil {
		return nil, utils.Wrap(err, "decode ft_balance_of result")
	}
	bal, ok := new(big.Int).SetString(balanceStr, 10)
	if !ok {
		return nil, utils.Wrap(err, "parse ft_balance_of amount")
	}
	return bal, nil
}

// NFTOwns calls the NEP-171 NFT contract, checking ownership either of a
// specific tokenId or of any token when tokenId is nil.
func (c *Client) NFTOwns(ctx context.Context, nftContract, accountId string, tokenId *string) (bool, error) {
	if tokenId != nil {
		args, _ := json.Marshal(map[string]string{"token_id": *tokenId})
		raw, err := c.View(ctx, nftContract, "nft_token", args, BlockRef{Finality: FinalityOptimistic})
		if err != nil {
			return false, utils.Wrap(err, "nft_token")
		}
		var token struct {
			OwnerId string `json:"owner_id"`
		}
		if err := json.Unmarshal(raw, &token); err != nil {
			return false, utils.Wrap(err, "decode nft_token result")
		}
		return token.OwnerId == accountId, nil
	}

	args, _ := json.Marshal(map[string]any{"account_id": accountId, "limit": 1})
	raw, err := c.View(ctx, nftContract, "nft_tokens_for_owner", args, BlockRef{Finality: FinalityOptimistic})
	if err != nil {
		return false, utils.Wrap(err, "nft_tokens_for_owner")
	}
	var tokens []json.RawMessage
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return false, utils.Wrap(err, "decode nft_tokens_for_owner result")
	}
	return len(tokens) > 0, nil
}

// DaoHasRole calls an Astra-style DAO contract's get_policy or
// get_council-equivalent view to check whether accountId holds role.
func (c *Client) DaoHasRole(ctx context.Context, daoContract, accountId, role string) (bool, error) {
	args, _ := json.Marshal(map[string]string{"role": role})
	raw, err := c.View(ctx, daoContract, "get_role_members", args, BlockRef{Finality: FinalityOptimistic})
	if err != nil {
		return false, utils.Wrap(err, "get_role_members")
	}
	var members []string
	if err := json.Unmarshal(raw, &members); err != nil {
		return false, utils.Wrap(err, "decode get_role_members result")
	}
	for _, m := range members {
		if m == accountId {
			return true, nil
		}
	}
	return false, nil
}
