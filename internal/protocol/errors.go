package protocol

import (
	"errors"
	"fmt"
)

// ErrorKind is the symbolic result of a factory validation or a request submission.
type ErrorKind int

const (
	Success ErrorKind = iota
	NotConnected
	InvalidOptions
	TransactionInProgress
	NoAck
	Disconnected
	UnknownType
	Closed
	Failure
)

var kindNames = [...]string{
	Success:               "SUCCESS",
	NotConnected:          "NOT_CONNECTED",
	InvalidOptions:        "INVALID_OPTIONS",
	TransactionInProgress: "TRANSACTION_IN_PROGRESS",
	NoAck:                 "NO_ACK",
	Disconnected:          "DISCONNECTED",
	UnknownType:           "UNKNOWN_TYPE",
	Closed:                "CLOSED",
	Failure:               "FAILURE",
}

func (k ErrorKind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
	return kindNames[k]
}

var (
	ErrNotConnected          = errors.New("protocol: not connected")
	ErrInvalidOptions        = errors.New("protocol: invalid options")
	ErrTransactionInProgress = errors.New("protocol: transaction in progress")
	ErrNoAck                 = errors.New("protocol: no ack")
	ErrDisconnected          = errors.New("protocol: disconnected")
	ErrUnknownType           = errors.New("protocol: unknown type")
	ErrClosed                = errors.New("protocol: closed")
)

var sentinels = []struct {
	err  error
	kind ErrorKind
}{
	{ErrNotConnected, NotConnected},
	{ErrInvalidOptions, InvalidOptions},
	{ErrTransactionInProgress, TransactionInProgress},
	{ErrNoAck, NoAck},
	{ErrDisconnected, Disconnected},
	{ErrUnknownType, UnknownType},
	{ErrClosed, Closed},
}

// KindOf maps err onto its ErrorKind. A nil error is Success; errors outside the
// taxonomy are Failure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return Success
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return Failure
}
