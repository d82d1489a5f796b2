package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const bribeABIJSON = `[
  {"inputs": [], "name": "rewardsListLength", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"},
  {"inputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "name": "rewardTokens", "outputs": [{"internalType": "address", "name": "", "type": "address"}], "stateMutability": "view", "type": "function"},
  {
    "inputs": [
      {"internalType": "address", "name": "", "type": "address"},
      {"internalType": "uint256", "name": "", "type": "uint256"}
    ],
    "name": "rewardData",
    "outputs": [
      {"internalType": "uint256", "name": "periodFinish", "type": "uint256"},
      {"internalType": "uint256", "name": "rewardsPerEpoch", "type": "uint256"},
      {"internalType": "uint256", "name": "lastUpdateTime", "type": "uint256"}
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {"inputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "name": "_totalSupply", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

const gaugeABIJSON = `[
  {"inputs": [], "name": "rewardForDuration", "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}], "stateMutability": "view", "type": "function"}
]`

var (
	bribeABI     abi.ABI
	bribeABIOnce sync.Once
	bribeABIErr  error
	gaugeABI     abi.ABI
	gaugeABIOnce sync.Once
	gaugeABIErr  error
)

// BribeABI returns the parsed bribe/fee distributor ABI.
func BribeABI() (abi.ABI, error) {
	bribeABIOnce.Do(func() {
		bribeABI, bribeABIErr = abi.JSON(strings.NewReader(bribeABIJSON))
	})
	return bribeABI, bribeABIErr
}

// GaugeABI returns the parsed gauge ABI.
func GaugeABI() (abi.ABI, error) {
	gaugeABIOnce.Do(func() {
		gaugeABI, gaugeABIErr = abi.JSON(strings.NewReader(gaugeABIJSON))
	})
	return gaugeABI, gaugeABIErr
}

// ParseABI parses override JSON, falling back to def when override is blank.
func ParseABI(override string, def func() (abi.ABI, error)) (abi.ABI, error) {
	if strings.TrimSpace(override) == "" {
		return def()
	}
	parsed, err := abi.JSON(strings.NewReader(override))
	if err != nil {
		return abi.ABI{}, fmt.Errorf("parse abi: %w", err)
	}
	return parsed, nil
}

// Reward is one reward token and the amount scheduled for an epoch.
type Reward struct {
	Token  common.Address
	Amount *big.Int
}

// MaxRewardTokens caps the reward list a single contract may report.
const MaxRewardTokens = 256

// BribeReader reads reward schedules from bribe and fee distributor contracts.
type BribeReader struct {
	caller Caller
	abi    abi.ABI
}

// NewBribeReader binds caller to the bribe ABI.
func NewBribeReader(caller Caller, parsed abi.ABI) *BribeReader {
	return &BribeReader{caller: caller, abi: parsed}
}

// RewardTokens lists the contract's reward tokens.
func (r *BribeReader) RewardTokens(ctx context.Context, contract common.Address) ([]common.Address, error) {
	values, err := r.caller.Call(ctx, contract, r.abi, "rewardsListLength")
	if err != nil {
		return nil, err
	}
	n, err := firstBigInt(values)
	if err != nil {
		return nil, fmt.Errorf("rewardsListLength: %w", err)
	}

	if n.Sign() < 0 || !n.IsInt64() || n.Int64() > MaxRewardTokens {
		return nil, fmt.Errorf("rewardsListLength %s: out of range [0, %d]", n, MaxRewardTokens)
	}

	count := n.Int64()
	tokens := make([]common.Address, 0, count)
	for i := int64(0); i < count; i++ {
		values, err := r.caller.Call(ctx, contract, r.abi, "rewardTokens", big.NewInt(i))
		if err != nil {
			return nil, err
		}
		if len(values) == 0 {
			return nil, fmt.Errorf("rewardTokens(%d): empty result", i)
		}
		token, err := asAddress(values[0])
		if err != nil {
			return nil, fmt.Errorf("rewardTokens(%d): %w", i, err)
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}

// RewardPerEpoch returns rewardsPerEpoch of rewardData(token, ts).
func (r *BribeReader) RewardPerEpoch(ctx context.Context, contract, token common.Address, ts int64) (*big.Int, error) {
	values, err := r.caller.Call(ctx, contract, r.abi, "rewardData", token, big.NewInt(ts))
	if err != nil {
		return nil, err
	}
	if len(values) < 2 {
		return nil, fmt.Errorf("rewardData: expected 3 outputs, got %d", len(values))
	}
	return asBigInt(values[1])
}

// Rewards returns every token with a positive reward for the epoch starting at ts.
func (r *BribeReader) Rewards(ctx context.Context, contract common.Address, ts int64) ([]Reward, error) {
	tokens, err := r.RewardTokens(ctx, contract)
	if err != nil {
		return nil, err
	}
	var out []Reward
	for _, token := range tokens {
		amount, err := r.RewardPerEpoch(ctx, contract, token, ts)
		if err != nil {
			return nil, fmt.Errorf("token %s: %w", token.Hex(), err)
		}
		if amount.Sign() > 0 {
			out = append(out, Reward{Token: token, Amount: amount})
		}
	}
	return out, nil
}

// TotalSupply returns the vote weight deposited for the epoch starting at ts.
func (r *BribeReader) TotalSupply(ctx context.Context, contract common.Address, ts int64) (*big.Int, error) {
	values, err := r.caller.Call(ctx, contract, r.abi, "_totalSupply", big.NewInt(ts))
	if err != nil {
		return nil, err
	}
	return firstBigInt(values)
}

// GaugeReader reads emission schedules from gauges.
type GaugeReader struct {
	caller Caller
	abi    abi.ABI
}

// NewGaugeReader binds caller to the gauge ABI.
func NewGaugeReader(caller Caller, parsed abi.ABI) *GaugeReader {
	return &GaugeReader{caller: caller, abi: parsed}
}

// RewardForDuration returns the emissions scheduled for the current epoch.
func (g *GaugeReader) RewardForDuration(ctx context.Context, gauge common.Address) (*big.Int, error) {
	values, err := g.caller.Call(ctx, gauge, g.abi, "rewardForDuration")
	if err != nil {
		return nil, err
	}
	return firstBigInt(values)
}

func firstBigInt(values []any) (*big.Int, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("empty result")
	}
	return asBigInt(values[0])
}

func asBigInt(value any) (*big.Int, error) {
	switch v := value.(type) {
	case *big.Int:
		return new(big.Int).Set(v), nil
	case big.Int:
		return new(big.Int).Set(&v), nil
	case uint64:
		return new(big.Int).SetUint64(v), nil
	case int64:
		return big.NewInt(v), nil
	default:
		return nil, fmt.Errorf("unsupported integer type %T", value)
	}
}

func asAddress(value any) (common.Address, error) {
	switch v := value.(type) {
	case common.Address:
		return v, nil
	case *common.Address:
		return *v, nil
	default:
		return common.Address{}, fmt.Errorf("unsupported address type %T", value)
	}
}
