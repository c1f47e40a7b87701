package action

import (
	"errors"
	"fmt"
	"sync"
)

type Status string

const (
	StatusIdle       Status = "idle"
	StatusSending    Status = "sending"
	StatusConfirming Status = "confirming"
	StatusConfirmed  Status = "confirmed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further automatic transition happens.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

var (
	ErrInProgress        = errors.New("transaction already in progress")
	ErrAlreadyConfirmed  = errors.New("transaction already confirmed")
	ErrIllegalTransition = errors.New("illegal status transition")
)

// Tracker is the status machine of one action card:
//
//	idle -> sending -> confirming -> confirmed
//	sending | confirming -> failed
//	failed -> sending (manual retry)
type Tracker struct {
	mu     sync.Mutex
	status Status
	hash   string
	err    error

	// OnChange, when set, is called after every transition with the lock
	// released.
	OnChange func(Status)
}

func NewTracker() *Tracker {
	return &Tracker{status: StatusIdle}
}

func (t *Tracker) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == "" {
		return StatusIdle
	}
	return t.status
}

// TxHash is the last known transaction hash, kept after a failure.
func (t *Tracker) TxHash() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.hash
}

func (t *Tracker) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Begin moves to sending. Starting again from failed clears the previous
// error; the last hash is kept until a new one is broadcast.
func (t *Tracker) Begin() error {
	t.mu.Lock()
	switch t.status {
	case "", StatusIdle, StatusFailed:
	case StatusSending, StatusConfirming:
		t.mu.Unlock()
		return ErrInProgress
	case StatusConfirmed:
		t.mu.Unlock()
		return ErrAlreadyConfirmed
	}
	t.status, t.err = StatusSending, nil
	t.mu.Unlock()
	t.notify(StatusSending)
	return nil
}

func (t *Tracker) Sent(hash string) error {
	return t.transition(StatusSending, StatusConfirming, func() { t.hash = hash })
}

func (t *Tracker) Confirmed() error {
	return t.transition(StatusConfirming, StatusConfirmed, nil)
}

func (t *Tracker) Fail(err error) error {
	t.mu.Lock()
	if t.status != StatusSending && t.status != StatusConfirming {
		from := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, StatusFailed)
	}
	t.status, t.err = StatusFailed, err
	t.mu.Unlock()
	t.notify(StatusFailed)
	return nil
}

func (t *Tracker) transition(from, to Status, apply func()) error {
	t.mu.Lock()
	if t.status != from {
		cur := t.status
		t.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, cur, to)
	}
	t.status = to
	if apply != nil {
		apply()
	}
	t.mu.Unlock()
	t.notify(to)
	return nil
}

func (t *Tracker) notify(s Status) {
	if t.OnChange != nil {
		t.OnChange(s)
	}
}
