// Package access evaluates the AccessCondition tagged union used to gate
// secret decryption (spec §9). Conditions that need on-chain facts
// (token balance, NFT ownership, DAO membership) are evaluated through a
// small ChainLookup dependency so this package never talks to the chain
// adapter directly, mirroring the teacher's pattern of controllers taking a
// ledger dependency rather than owning one (core/access_control.go).
package access

import (
	"context"
	"fmt"
	"math/big"
	"regexp"

	"github.com/outlayer-net/cluster/pkg/types"
)

// ConditionKind discriminates the AccessCondition tagged union.
type ConditionKind string

const (
	AllowAll      ConditionKind = "AllowAll"
	Whitelist     ConditionKind = "Whitelist"
	AccountPtrn   ConditionKind = "AccountPattern"
	TokenBalance  ConditionKind = "TokenBalance"
	NftOwnership  ConditionKind = "NftOwnership"
	DaoMembership ConditionKind = "DaoMembership"
	Logic         ConditionKind = "Logic"
)

// LogicOp discriminates the Logic condition's combinator.
type LogicOp string

const (
	LogicAnd LogicOp = "And"
	LogicOr  LogicOp = "Or"
	LogicNot LogicOp = "Not"
)

// Condition is the recursive AccessCondition sum type from spec §9.
type Condition struct {
	Kind ConditionKind

	Whitelist []types.AccountId // Whitelist

	Pattern string // AccountPattern, a regexp

	FTContract string   // TokenBalance
	Threshold  *big.Int // TokenBalance

	NFTContract string  // NftOwnership
	TokenID     *string // NftOwnership, nil means "any token"

	DaoContract string // DaoMembership
	Role        string // DaoMembership

	Op       LogicOp     // Logic
	Children []Condition // Logic
}

// ChainLookup is the subset of the chain adapter needed to evaluate
// on-chain-fact conditions. Implemented by internal/chain.Client in
// production and by a stub in tests.
type ChainLookup interface {
	FTBalanceOf(ctx context.Context, ftContract, accountId string) (*big.Int, error)
	NFTOwns(ctx context.Context, nftContract, accountId string, tokenId *string) (bool, error)
	DaoHasRole(ctx context.Context, daoContract, accountId, role string) (bool, error)
}

// Evaluate reports whether accountId satisfies the condition. Or/Not
// short-circuit: Or returns true as soon as one child is satisfied without
// evaluating the rest; Not evaluates its single child and negates it.
func Evaluate(ctx context.Context, c Condition, accountId types.AccountId, chain ChainLookup) (bool, error) {
	switch c.Kind {
	case AllowAll:
		return true, nil

	case Whitelist:
		for _, a := range c.Whitelist {
			if a == accountId {
				return true, nil
			}
		}
		return false, nil

	case AccountPtrn:
		re, err := regexp.Compile(c.Pattern)
		if err != nil {
			return false, fmt.Errorf("access: invalid account pattern %q: %w", c.Pattern, err)
		}
		return re.MatchString(accountId), nil

	case TokenBalance:
		if chain == nil {
			return false, fmt.Errorf("access: TokenBalance condition requires a chain lookup")
		}
		bal, err := chain.FTBalanceOf(ctx, c.FTContract, accountId)
		if err != nil {
			return false, err
		}
		return bal.Cmp(c.Threshold) >= 0, nil

	case NftOwnership:
		if chain == nil {
			return false, fmt.Errorf("access: NftOwnership condition requires a chain lookup")
		}
		return chain.NFTOwns(ctx, c.NFTContract, accountId, c.TokenID)

	case DaoMembership:
		if chain == nil {
			return false, fmt.Errorf("access: DaoMembership condition requires a chain lookup")
		}
		return chain.DaoHasRole(ctx, c.DaoContract, accountId, c.Role)

	case Logic:
		return evaluateLogic(ctx, c, accountId, chain)

	default:
		return false, fmt.Errorf("access: unknown condition kind %q", c.Kind)
	}
}

func evaluateLogic(ctx context.Context, c Condition, accountId types.AccountId, chain ChainLookup) (bool, error) {
	switch c.Op {
	case LogicNot:
		if len(c.Children) != 1 {
			return false, fmt.Errorf("access: Not requires exactly one child condition")
		}
		ok, err := Evaluate(ctx, c.Children[0], accountId, chain)
		if err != nil {
			return false, err
		}
		return !ok, nil

	case LogicAnd:
		for _, child := range c.Children {
			ok, err := Evaluate(ctx, child, accountId, chain)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case LogicOr:
		for _, child := range c.Children {
			ok, err := Evaluate(ctx, child, accountId, chain)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	default:
		return false, fmt.Errorf("access: unknown logic op %q", c.Op)
	}
}
