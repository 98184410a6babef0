package events

import (
	"context"
	"encoding/json"
	"time"
)

// Kind names an engine event.
type Kind string

const (
	KindChainExecuted    Kind = "chain.executed"
	KindChainAborted     Kind = "chain.aborted"
	KindDepositRequested Kind = "vault.deposit_requested"
	KindDeposited        Kind = "vault.deposited"
	KindRedeemRequested  Kind = "vault.redeem_requested"
	KindRedeemed         Kind = "vault.redeemed"
	KindSettled          Kind = "vault.settled"
	KindPaused           Kind = "vault.paused"
	KindUnpaused         Kind = "vault.unpaused"
)

// Event is the wire record published to downstream consumers.
type Event struct {
	Kind    Kind           `json:"kind"`
	RunID   string         `json:"run_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
	At      int64          `json:"at"`
}

// New builds an event stamped with the current time.
func New(kind Kind, runID string, payload map[string]any) Event {
	return Event{Kind: kind, RunID: runID, Payload: payload, At: time.Now().Unix()}
}

// Encode serialises the event for transport.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Producer publishes engine events. Implementations must be safe for
// concurrent use; publication failures are logged by callers, never allowed
// to abort ledger operations.
type Producer interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}
