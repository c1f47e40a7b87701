package model

import (
	"slices"
	"time"
)

type Network string

const (
	NetworkMainnet Network = "mainnet"
	NetworkTestnet Network = "testnet"
	NetworkAll     Network = "all"
)

// Valid reports whether n is empty or one of the known network classes.
func (n Network) Valid() bool {
	switch n {
	case "", NetworkMainnet, NetworkTestnet, NetworkAll:
		return true
	}
	return false
}

// ContextFilter scopes the assistant to chains and a wallet.
type ContextFilter struct {
	ChainIDs      []string `json:"chain_ids,omitempty"`
	WalletAddress string   `json:"wallet_address,omitempty"`
	Networks      Network  `json:"networks,omitempty"`
}

func (f ContextFilter) IsZero() bool {
	return len(f.ChainIDs) == 0 && f.WalletAddress == "" && f.Networks == ""
}

func (f ContextFilter) Equal(other ContextFilter) bool {
	return slices.Equal(f.ChainIDs, other.ChainIDs) &&
		f.WalletAddress == other.WalletAddress &&
		f.Networks == other.Networks
}

func (f ContextFilter) Clone() ContextFilter {
	f.ChainIDs = slices.Clone(f.ChainIDs)
	return f
}

type Session struct {
	ID        string         `json:"id"`
	Title     string         `json:"title,omitempty"`
	IsPublic  bool           `json:"is_public"`
	History   []Message      `json:"history,omitempty"`
	Context   *ContextFilter `json:"context,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt *time.Time     `json:"deleted_at,omitempty"`
}

// Filter returns the session's context filter, or the zero filter.
func (s *Session) Filter() ContextFilter {
	if s == nil || s.Context == nil {
		return ContextFilter{}
	}
	return s.Context.Clone()
}

// Summary drops the history, for list views and index files.
func (s *Session) Summary() *Session {
	out := *s
	out.History = nil
	if s.Context != nil {
		c := s.Context.Clone()
		out.Context = &c
	}
	return &out
}
