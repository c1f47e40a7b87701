package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

type ActionType string

const (
	ActionSignTransaction ActionType = "sign_transaction"
	ActionSignSwap        ActionType = "sign_swap"
)

type SwapKind string

const (
	SwapApproval SwapKind = "approval"
	SwapExecute  SwapKind = "swap"
)

var (
	ErrUnknownAction   = errors.New("unknown action type")
	ErrInvalidAction   = errors.New("invalid action payload")
	ErrInvalidQuantity = errors.New("invalid quantity")
)

// ChainID accepts JSON numbers as well as decimal or 0x-prefixed strings.
type ChainID int64

func (c *ChainID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
	}
	n, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return fmt.Errorf("chain id %q: %w", s, err)
	}
	*c = ChainID(n)
	return nil
}

// Quantity is a wei amount kept in its wire form (decimal or 0x hex).
type Quantity string

func (q *Quantity) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*q = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
	}
	*q = Quantity(s)
	return nil
}

func (q Quantity) BigInt() (*big.Int, error) {
	s := strings.TrimSpace(string(q))
	if s == "" {
		return new(big.Int), nil
	}
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		s, base = s[2:], 16
		if s == "" {
			return new(big.Int), nil
		}
	}
	v, ok := new(big.Int).SetString(s, base)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidQuantity, string(q))
	}
	return v, nil
}

type TransactionParams struct {
	ChainID ChainID  `json:"chainId"`
	To      string   `json:"to"`
	Data    string   `json:"data,omitempty"`
	Value   Quantity `json:"value,omitempty"`
}

func (p TransactionParams) validate() error {
	if p.ChainID <= 0 {
		return fmt.Errorf("%w: missing chainId", ErrInvalidAction)
	}
	if p.To == "" {
		return fmt.Errorf("%w: missing to", ErrInvalidAction)
	}
	if _, err := p.Value.BigInt(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	return nil
}

type TokenInfo struct {
	Address  string   `json:"address"`
	ChainID  ChainID  `json:"chain_id"`
	Symbol   string   `json:"symbol,omitempty"`
	Decimals int      `json:"decimals,omitempty"`
	Amount   Quantity `json:"amount,omitempty"`
}

type SwapIntent struct {
	OriginChainID           ChainID  `json:"originChainId"`
	OriginTokenAddress      string   `json:"originTokenAddress"`
	DestinationChainID      ChainID  `json:"destinationChainId"`
	DestinationTokenAddress string   `json:"destinationTokenAddress"`
	Amount                  Quantity `json:"amount"`
	Sender                  string   `json:"sender,omitempty"`
	Receiver                string   `json:"receiver,omitempty"`
}

type SwapPayload struct {
	Transaction TransactionParams `json:"transaction"`
	Intent      SwapIntent        `json:"intent"`
	From        TokenInfo         `json:"from"`
	To          TokenInfo         `json:"to"`
	Action      SwapKind          `json:"action"`
}

// IsApproval reports whether the swap step only grants a token allowance.
func (s *SwapPayload) IsApproval() bool {
	return s.Action == SwapApproval
}

// Action is an assistant request that needs a wallet signature.
type Action struct {
	Type        ActionType         `json:"type"`
	Transaction *TransactionParams `json:"transaction,omitempty"`
	Swap        *SwapPayload       `json:"swap,omitempty"`
}

// Params returns the transaction that has to be signed for this action.
func (a *Action) Params() (TransactionParams, bool) {
	switch {
	case a == nil:
		return TransactionParams{}, false
	case a.Transaction != nil:
		return *a.Transaction, true
	case a.Swap != nil:
		return a.Swap.Transaction, true
	}
	return TransactionParams{}, false
}

// ParseAction decodes the JSON string carried by an action event.
func ParseAction(actionType ActionType, raw string) (*Action, error) {
	switch actionType {
	case ActionSignTransaction:
		var tx TransactionParams
		if err := json.Unmarshal([]byte(raw), &tx); err != nil {
			return nil, err
		}
		if err := tx.validate(); err != nil {
			return nil, err
		}
		return &Action{Type: actionType, Transaction: &tx}, nil
	case ActionSignSwap:
		var swap SwapPayload
		if err := json.Unmarshal([]byte(raw), &swap); err != nil {
			return nil, err
		}
		if err := swap.Transaction.validate(); err != nil {
			return nil, err
		}
		if swap.Action == "" {
			swap.Action = SwapExecute
		}
		if swap.Action != SwapApproval && swap.Action != SwapExecute {
			return nil, fmt.Errorf("%w: swap action %q", ErrInvalidAction, swap.Action)
		}
		return &Action{Type: actionType, Swap: &swap}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAction, actionType)
}
