package dex

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"arbtrader/internal/model"
)

// ERC20 provides token reads and approval transaction building for a single
// token contract.
type ERC20 struct {
	caller Caller
	token  common.Address
}

// NewERC20 binds an accessor to a token address.
func NewERC20(caller Caller, token common.Address) *ERC20 {
	return &ERC20{caller: caller, token: token}
}

// Metadata loads name, symbol, and decimals via ERC20 calls, falling back to
// the bytes32 variants for non-standard tokens.
func (t *ERC20) Metadata(ctx context.Context, logger *zap.Logger) (model.Token, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	meta := model.Token{Address: t.token.Hex()}

	stringABI, err := ERC20ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 abi: %w", err)
	}
	bytes32ABI, err := ERC20Bytes32ABI()
	if err != nil {
		return meta, fmt.Errorf("parse erc20 bytes32 abi: %w", err)
	}

	values, err := callMethod(ctx, t.caller, t.token, stringABI, "decimals")
	if err != nil {
		return meta, err
	}
	decimals, err := asUint8(values[0])
	if err != nil {
		return meta, err
	}
	meta.Decimals = decimals

	if values, err := callMethod(ctx, t.caller, t.token, stringABI, "symbol"); err == nil {
		if symbol, ok := values[0].(string); ok {
			meta.Symbol = symbol
		}
	} else if values, err := callMethod(ctx, t.caller, t.token, bytes32ABI, "symbol"); err == nil {
		if symbol, ok := bytes32ToString(values[0]); ok {
			meta.Symbol = symbol
		}
	} else {
		logger.Debug("symbol call failed", zap.String("token", t.token.Hex()), zap.Error(err))
	}

	if values, err := callMethod(ctx, t.caller, t.token, stringABI, "name"); err == nil {
		if name, ok := values[0].(string); ok {
			meta.Name = name
		}
	} else if values, err := callMethod(ctx, t.caller, t.token, bytes32ABI, "name"); err == nil {
		if name, ok := bytes32ToString(values[0]); ok {
			meta.Name = name
		}
	} else {
		logger.Debug("name call failed", zap.String("token", t.token.Hex()), zap.Error(err))
	}

	return meta, nil
}

// BalanceOf returns the token balance of an account.
func (t *ERC20) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := callMethod(ctx, t.caller, t.token, parsed, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// Allowance returns the spender allowance granted by owner.
func (t *ERC20) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	values, err := callMethod(ctx, t.caller, t.token, parsed, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return asBigInt(values[0])
}

// ApproveTx builds an unsigned approval transaction from owner to spender.
func (t *ERC20) ApproveTx(ctx context.Context, owner, spender common.Address, amount *big.Int) (TxRequest, error) {
	parsed, err := ERC20ABI()
	if err != nil {
		return TxRequest{}, fmt.Errorf("parse erc20 abi: %w", err)
	}
	data, err := parsed.Pack("approve", spender, amount)
	if err != nil {
		return TxRequest{}, fmt.Errorf("pack approve: %w", err)
	}
	chainID, err := t.caller.ChainID(ctx)
	if err != nil {
		return TxRequest{}, fmt.Errorf("chain id: %w", err)
	}
	return TxRequest{
		ChainID: chainID,
		From:    owner,
		To:      t.token,
		Data:    data,
	}, nil
}
