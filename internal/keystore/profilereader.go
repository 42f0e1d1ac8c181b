package keystore

import (
	"context"
	"encoding/json"

	"github.com/outlayer-net/cluster/internal/access"
	"github.com/outlayer-net/cluster/internal/chain"
	"github.com/outlayer-net/cluster/pkg/types"
	"github.com/outlayer-net/cluster/pkg/utils"
)

// ChainProfileReader resolves a SecretProfile from the on-chain contract,
// grounded on worker.ChainProjectResolver's view-call shape. For a Repo
// accessor whose exact branch has no profile, it falls back to the
// wildcard (branch=nil) profile the repo owner registered, per spec §4.5
// /decrypt step (b).
type ChainProfileReader struct {
	Chain      *chain.Client
	ContractID string
}

type getSecretProfileArgs struct {
	Accessor types.SecretAccessor `json:"accessor"`
	Profile  string               `json:"profile"`
	Owner    string               `json:"owner"`
}

type wireSecretProfile struct {
	EncryptedSecrets []byte           `json:"encrypted_secrets"`
	Branch           *string          `json:"branch"`
	Access           access.Condition `json:"access"`
}

func (r *ChainProfileReader) GetSecretProfile(ctx context.Context, accessor types.SecretAccessor, profile, owner string) (*SecretProfile, error) {
	out, err := r.view(ctx, accessor, profile, owner)
	if err != nil {
		return nil, err
	}
	if out != nil {
		return out, nil
	}

	if accessor.Kind != types.AccessorRepo || accessor.Repo == nil || accessor.Repo.Branch == nil {
		return nil, nil
	}
	wildcard := accessor
	repoCopy := *accessor.Repo
	repoCopy.Branch = nil
	wildcard.Repo = &repoCopy
	return r.view(ctx, wildcard, profile, owner)
}

func (r *ChainProfileReader) view(ctx context.Context, accessor types.SecretAccessor, profile, owner string) (*SecretProfile, error) {
	args, err := json.Marshal(getSecretProfileArgs{Accessor: accessor, Profile: profile, Owner: owner})
	if err != nil {
		return nil, utils.Wrap(err, "marshal get_secret_profile args")
	}
	raw, err := r.Chain.View(ctx, r.ContractID, "get_secret_profile", args, chain.BlockRef{Finality: chain.FinalityOptimistic})
	if err != nil {
		return nil, utils.Wrap(err, "view get_secret_profile")
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var wire wireSecretProfile
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, utils.Wrap(err, "decode get_secret_profile response")
	}
	return &SecretProfile{EncryptedSecrets: wire.EncryptedSecrets, Branch: wire.Branch, Access: wire.Access}, nil
}
