package events

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/transfer-core/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultExchange is the topic exchange transfer lifecycle events are published to.
const DefaultExchange = "transfer_events"

// Routing keys.
const (
	TransferExecuted        = "transfer.executed"
	TransferPendingApproval = "transfer.pending_approval"
	TransferApproved        = "transfer.approved"
	TransferRejected        = "transfer.rejected"
	TransferFailed          = "transfer.failed"
	TransferScheduled       = "transfer.scheduled"
	TransferCancelled       = "transfer.cancelled"
	TransferScheduleFailed  = "transfer.schedule_failed"
)

// TransferEvent is the payload for every transfer lifecycle message.
type TransferEvent struct {
	EventID         string     `json:"event_id"`
	EventType       string     `json:"event_type"`
	TransferID      uuid.UUID  `json:"transfer_id"`
	Status          string     `json:"status"`
	Kind            string     `json:"kind"`
	SourceAccountID uuid.UUID  `json:"source_account_id"`
	InitiatorID     uuid.UUID  `json:"initiator_id"`
	ActorID         *uuid.UUID `json:"actor_id,omitempty"`
	Amount          int64      `json:"amount"`
	Fee             int64      `json:"fee"`
	Currency        string     `json:"currency"`
	HighValue       bool       `json:"high_value"`
	Reason          string     `json:"reason,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

// NewTransferEvent builds an event snapshot of rec.
func NewTransferEvent(eventType string, rec models.TransferRecord, actorID *uuid.UUID, reason string) TransferEvent {
	return TransferEvent{
		EventID:         uuid.NewString(),
		EventType:       eventType,
		TransferID:      rec.ID,
		Status:          rec.Status,
		Kind:            rec.Kind,
		SourceAccountID: rec.SourceAccountID,
		InitiatorID:     rec.InitiatorID,
		ActorID:         actorID,
		Amount:          rec.Amount,
		Fee:             rec.Fee,
		Currency:        rec.Currency,
		HighValue:       rec.HighValue,
		Reason:          reason,
		OccurredAt:      time.Now().UTC(),
	}
}

// Publisher is implemented by types that can publish transfer events.
type Publisher interface {
	Publish(ctx context.Context, event TransferEvent) error
	Close()
}

// NoopPublisher drops events. It is used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(_ context.Context, event TransferEvent) error {
	zap.L().Debug("event publish skipped", zap.String("event_type", event.EventType), zap.String("transfer_id", event.TransferID.String()))
	return nil
}

func (NoopPublisher) Close() {}

// Recorder keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []TransferEvent
}

func (r *Recorder) Publish(_ context.Context, event TransferEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *Recorder) Close() {}

// Events returns a copy of everything published so far.
func (r *Recorder) Events() []TransferEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]TransferEvent(nil), r.events...)
}

// Types returns the event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}
