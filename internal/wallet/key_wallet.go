// Package wallet signs and broadcasts the transactions requested by the
// assistant using a local private key.
package wallet

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"nebula-chat/internal/config"
	"nebula-chat/internal/model"
	"nebula-chat/pkg/logger"
)

var (
	ErrNoRPC       = errors.New("no rpc endpoint configured for chain")
	ErrInvalidKey  = errors.New("invalid private key")
	ErrInvalidTo   = errors.New("invalid recipient address")
	ErrReverted    = errors.New("transaction reverted")
	ErrInvalidData = errors.New("invalid calldata")
)

// Backend is the subset of an Ethereum JSON-RPC client the wallet needs.
// *ethclient.Client implements it.
type Backend interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type DialFunc func(ctx context.Context, rawURL string) (Backend, error)

func dialEthclient(ctx context.Context, rawURL string) (Backend, error) {
	return ethclient.DialContext(ctx, rawURL)
}

// KeyWallet implements action.Wallet with EIP-1559 transactions.
type KeyWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	rpcURLs map[int64]string

	dial           DialFunc
	pollInterval   time.Duration
	confirmTimeout time.Duration

	mu       sync.Mutex
	backends map[int64]Backend
}

type Option func(*KeyWallet)

// WithDialer replaces the JSON-RPC dialer.
func WithDialer(dial DialFunc) Option {
	return func(w *KeyWallet) { w.dial = dial }
}

func WithPollInterval(d time.Duration) Option {
	return func(w *KeyWallet) { w.pollInterval = d }
}

func NewKeyWallet(hexKey string, rpcURLs map[string]string, opts ...Option) (*KeyWallet, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	urls := make(map[int64]string, len(rpcURLs))
	for raw, u := range rpcURLs {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("rpc url for chain %q: %w", raw, err)
		}
		urls[id] = u
	}

	w := &KeyWallet{
		key:          key,
		address:      crypto.PubkeyToAddress(key.PublicKey),
		rpcURLs:      urls,
		dial:         dialEthclient,
		pollInterval: 2 * time.Second,
		backends:     make(map[int64]Backend),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// FromConfig builds a wallet from the wallet section.
func FromConfig(cfg config.WalletConfig, opts ...Option) (*KeyWallet, error) {
	w, err := NewKeyWallet(cfg.PrivateKey, cfg.RPCURLs, opts...)
	if err != nil {
		return nil, err
	}
	if cfg.PollInterval > 0 {
		w.pollInterval = cfg.PollInterval
	}
	w.confirmTimeout = cfg.ConfirmTimeout
	return w, nil
}

func (w *KeyWallet) Address() string {
	return w.address.Hex()
}

func (w *KeyWallet) backend(ctx context.Context, chainID int64) (Backend, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if b, ok := w.backends[chainID]; ok {
		return b, nil
	}
	u, ok := w.rpcURLs[chainID]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrNoRPC, chainID)
	}
	b, err := w.dial(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("dial chain %d: %w", chainID, err)
	}
	w.backends[chainID] = b
	return b, nil
}

func (w *KeyWallet) SendTransaction(ctx context.Context, params model.TransactionParams) (string, error) {
	chainID := int64(params.ChainID)
	b, err := w.backend(ctx, chainID)
	if err != nil {
		return "", err
	}

	if !common.IsHexAddress(params.To) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTo, params.To)
	}
	to := common.HexToAddress(params.To)

	var data []byte
	if params.Data != "" && params.Data != "0x" {
		if data, err = hexutil.Decode(params.Data); err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
	}

	value, err := params.Value.BigInt()
	if err != nil {
		return "", err
	}

	nonce, err := b.PendingNonceAt(ctx, w.address)
	if err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	tip, err := b.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("gas tip: %w", err)
	}
	head, err := b.HeaderByNumber(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("latest header: %w", err)
	}
	feeCap := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}

	gas, err := b.EstimateGas(ctx, ethereum.CallMsg{
		From:  w.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return "", fmt.Errorf("estimate gas: %w", err)
	}
	// 20% headroom over the estimate
	gas += gas / 5

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   big.NewInt(chainID),
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      data,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(chainID)), w.key)
	if err != nil {
		return "", fmt.Errorf("sign: %w", err)
	}

	if err := b.SendTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("broadcast: %w", err)
	}

	logger.Infof("broadcast %s on chain %d", signed.Hash().Hex(), chainID)
	return signed.Hash().Hex(), nil
}

// WaitForConfirmation polls for the receipt until it is mined, ctx is done or
// the configured confirm timeout passes.
func (w *KeyWallet) WaitForConfirmation(ctx context.Context, chainID model.ChainID, hash string) error {
	b, err := w.backend(ctx, int64(chainID))
	if err != nil {
		return err
	}

	if w.confirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.confirmTimeout)
		defer cancel()
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	txHash := common.HexToHash(hash)
	for {
		receipt, err := b.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil:
			if receipt.Status == types.ReceiptStatusFailed {
				return fmt.Errorf("%w: %s", ErrReverted, hash)
			}
			return nil
		case !errors.Is(err, ethereum.NotFound):
			return fmt.Errorf("receipt %s: %w", hash, err)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
