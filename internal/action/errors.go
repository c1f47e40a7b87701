package action

import (
	"errors"
	"fmt"
)

var ErrNotAnAction = errors.New("message is not a signable action")

type Stage string

const (
	StageSend    Stage = "send"
	StageConfirm Stage = "confirm"
)

// TransactionError is a wallet failure captured in the failed status.
type TransactionError struct {
	Stage  Stage
	TxHash string
	Err    error
}

func (e *TransactionError) Error() string {
	if e.TxHash != "" {
		return fmt.Sprintf("transaction %s failed during %s: %v", e.TxHash, e.Stage, e.Err)
	}
	return fmt.Sprintf("transaction failed during %s: %v", e.Stage, e.Err)
}

func (e *TransactionError) Unwrap() error {
	return e.Err
}
