package filter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nebula-chat/internal/model"
)

var (
	ErrInvalidWallet  = errors.New("invalid wallet address")
	ErrInvalidChainID = errors.New("invalid chain id")
	ErrInvalidNetwork = errors.New("invalid network")
)

// State tracks the context filter of one conversation.
//
// The filter is held locally until a session exists. Once the user edits it
// explicitly, wallet-derived defaults are no longer applied. Dirty reports a
// local change that has not yet been confirmed by the server.
type State struct {
	current model.ContextFilter
	edited  bool
	dirty   bool
}

func New(initial model.ContextFilter) (*State, error) {
	f, err := Normalize(initial)
	if err != nil {
		return nil, err
	}
	return &State{current: f, dirty: !f.IsZero()}, nil
}

// Set records an explicit user edit.
func (s *State) Set(f model.ContextFilter) error {
	n, err := Normalize(f)
	if err != nil {
		return err
	}
	s.current = n
	s.edited = true
	s.dirty = true
	return nil
}

// Derive applies connected-wallet defaults unless the user has edited the
// filter. It reports whether the filter changed.
func (s *State) Derive(wallet string, chainID int64) bool {
	if s.edited {
		return false
	}
	next := s.current.Clone()
	if validWallet(wallet) {
		next.WalletAddress = wallet
	}
	if chainID > 0 {
		next.ChainIDs = []string{strconv.FormatInt(chainID, 10)}
	}
	if next.Equal(s.current) {
		return false
	}
	s.current = next
	s.dirty = true
	return true
}

// ReconcileWithRemote adopts the server's filter after a successful create or
// update and clears the dirty flag.
func (s *State) ReconcileWithRemote(remote model.ContextFilter) {
	if n, err := Normalize(remote); err == nil {
		s.current = n
	} else {
		s.current = remote.Clone()
	}
	s.dirty = false
}

func (s *State) Current() model.ContextFilter {
	return s.current.Clone()
}

// Pending returns the filter to send with a request, or nil when empty.
func (s *State) Pending() *model.ContextFilter {
	if s.current.IsZero() {
		return nil
	}
	f := s.current.Clone()
	return &f
}

func (s *State) Dirty() bool  { return s.dirty }
func (s *State) Edited() bool { return s.edited }

// Reset starts over for a new conversation with the given defaults.
func (s *State) Reset(defaults model.ContextFilter) {
	n, err := Normalize(defaults)
	if err != nil {
		n = model.ContextFilter{}
	}
	*s = State{current: n, dirty: !n.IsZero()}
}

// Normalize trims and deduplicates chain ids (order kept) and validates the
// wallet address and network tag.
func Normalize(f model.ContextFilter) (model.ContextFilter, error) {
	out := model.ContextFilter{
		WalletAddress: strings.TrimSpace(f.WalletAddress),
		Networks:      f.Networks,
	}

	seen := make(map[string]struct{}, len(f.ChainIDs))
	for _, raw := range f.ChainIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil || n <= 0 {
			return model.ContextFilter{}, fmt.Errorf("%w: %q", ErrInvalidChainID, raw)
		}
		id = strconv.FormatInt(n, 10)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out.ChainIDs = append(out.ChainIDs, id)
	}

	if out.WalletAddress != "" && !validWallet(out.WalletAddress) {
		return model.ContextFilter{}, fmt.Errorf("%w: %q", ErrInvalidWallet, out.WalletAddress)
	}
	if !out.Networks.Valid() {
		return model.ContextFilter{}, fmt.Errorf("%w: %q", ErrInvalidNetwork, out.Networks)
	}
	return out, nil
}

func validWallet(addr string) bool {
	return strings.HasPrefix(addr, "0x") && common.IsHexAddress(addr)
}
