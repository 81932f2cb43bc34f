package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"arbtrader/internal/dex"
)

// Sender signs and submits unsigned transaction requests for a single
// account. Each monitor owns exactly one Sender; the nonce sequence it
// assigns is never shared.
type Sender struct {
	client  *Client
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSender derives a sender from a hex-encoded private key.
func NewSender(client *Client, hexKey string) (*Sender, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Sender{
		client:  client,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

// Address returns the account address.
func (s *Sender) Address() common.Address {
	return s.address
}

// Send signs a transaction request and submits it. The request's nonce must
// already be assigned by the caller.
func (s *Sender) Send(ctx context.Context, req *dex.TxRequest) error {
	if req.Nonce == nil {
		return fmt.Errorf("tx nonce not assigned")
	}

	chainID := req.ChainID
	if chainID == nil {
		var err error
		chainID, err = s.client.ChainID(ctx)
		if err != nil {
			return fmt.Errorf("chain id: %w", err)
		}
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return fmt.Errorf("suggest gas price: %w", err)
	}

	gas := req.Gas
	if gas == 0 {
		gas = 150000
	}
	value := req.Value
	if value == nil {
		value = big.NewInt(0)
	}

	to := req.To
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    *req.Nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     req.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), s.key)
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}

	return s.client.SendTransaction(ctx, signed)
}
