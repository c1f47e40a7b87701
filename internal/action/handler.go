// Package action executes the wallet requests an assistant attaches to a
// conversation and decides whether the outcome is reported back.
package action

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"nebula-chat/internal/model"
	"nebula-chat/pkg/logger"
)

// Wallet signs and broadcasts transactions.
type Wallet interface {
	SendTransaction(ctx context.Context, tx model.TransactionParams) (string, error)
	WaitForConfirmation(ctx context.Context, chainID model.ChainID, hash string) error
}

// Log answers whether another action directly follows a message. A
// reducer.State satisfies it.
type Log interface {
	FollowedByAction(id string) bool
}

// Report is the confirmed outcome sent back to the assistant as a user turn.
type Report struct {
	MessageID string
	TxHash    string
	ChainID   int64
}

func (r Report) Content() []model.ContentItem {
	return []model.ContentItem{model.TransactionContent(r.TxHash, r.ChainID)}
}

// Handler runs one action card.
type Handler interface {
	// Execute signs, broadcasts and waits for the transaction. The report is
	// nil when nothing should be sent back.
	Execute(ctx context.Context) (*Report, error)
	Tracker() *Tracker
}

// NewHandler picks the handler for an action message.
func NewHandler(msg model.Message, wallet Wallet, log func() Log) (Handler, error) {
	if msg.Kind != model.KindAction || msg.Action == nil {
		return nil, ErrNotAnAction
	}
	switch msg.Action.Type {
	case model.ActionSignTransaction:
		return NewTransactionHandler(msg, wallet, log)
	case model.ActionSignSwap:
		return NewSwapHandler(msg, wallet, log)
	}
	return nil, fmt.Errorf("%w: %s", model.ErrUnknownAction, msg.Action.Type)
}

// runner holds the flow shared by transaction and swap cards.
type runner struct {
	messageID string
	params    model.TransactionParams
	wallet    Wallet
	log       func() Log
	tracker   *Tracker
}

func (r *runner) Tracker() *Tracker {
	return r.tracker
}

// run drives sending -> confirming -> confirmed, or failed.
func (r *runner) run(ctx context.Context) (string, error) {
	if err := r.tracker.Begin(); err != nil {
		return "", err
	}

	entry := logger.WithFields(logrus.Fields{
		"message_id": r.messageID,
		"chain_id":   int64(r.params.ChainID),
	})

	hash, err := r.wallet.SendTransaction(ctx, r.params)
	if err != nil {
		txErr := &TransactionError{Stage: StageSend, TxHash: r.tracker.TxHash(), Err: err}
		_ = r.tracker.Fail(txErr)
		entry.Warnf("send failed: %v", err)
		return "", txErr
	}
	if err := r.tracker.Sent(hash); err != nil {
		return hash, err
	}
	entry = entry.WithField("tx_hash", hash)
	entry.Debug("transaction broadcast")

	if err := r.wallet.WaitForConfirmation(ctx, r.params.ChainID, hash); err != nil {
		txErr := &TransactionError{Stage: StageConfirm, TxHash: hash, Err: err}
		_ = r.tracker.Fail(txErr)
		entry.Warnf("confirmation failed: %v", err)
		return hash, txErr
	}
	if err := r.tracker.Confirmed(); err != nil {
		return hash, err
	}
	entry.Info("transaction confirmed")
	return hash, nil
}

// report builds the follow-up unless another action comes right after this
// one in the log.
func (r *runner) report(hash string) *Report {
	if r.log != nil {
		if l := r.log(); l != nil && l.FollowedByAction(r.messageID) {
			return nil
		}
	}
	return &Report{MessageID: r.messageID, TxHash: hash, ChainID: int64(r.params.ChainID)}
}

type TransactionHandler struct {
	runner
}

func NewTransactionHandler(msg model.Message, wallet Wallet, log func() Log) (*TransactionHandler, error) {
	if msg.Action == nil || msg.Action.Transaction == nil {
		return nil, ErrNotAnAction
	}
	return &TransactionHandler{runner{
		messageID: msg.ID,
		params:    *msg.Action.Transaction,
		wallet:    wallet,
		log:       log,
		tracker:   NewTracker(),
	}}, nil
}

func (h *TransactionHandler) Execute(ctx context.Context) (*Report, error) {
	hash, err := h.run(ctx)
	if err != nil {
		return nil, err
	}
	return h.report(hash), nil
}

// SwapHandler executes a swap step. Approval steps only grant an allowance
// and never report back.
type SwapHandler struct {
	runner
	approval bool
}

func NewSwapHandler(msg model.Message, wallet Wallet, log func() Log) (*SwapHandler, error) {
	if msg.Action == nil || msg.Action.Swap == nil {
		return nil, ErrNotAnAction
	}
	return &SwapHandler{
		runner: runner{
			messageID: msg.ID,
			params:    msg.Action.Swap.Transaction,
			wallet:    wallet,
			log:       log,
			tracker:   NewTracker(),
		},
		approval: msg.Action.Swap.IsApproval(),
	}, nil
}

func (h *SwapHandler) IsApproval() bool {
	return h.approval
}

func (h *SwapHandler) Execute(ctx context.Context) (*Report, error) {
	hash, err := h.run(ctx)
	if err != nil {
		return nil, err
	}
	if h.approval {
		return nil, nil
	}
	return h.report(hash), nil
}
