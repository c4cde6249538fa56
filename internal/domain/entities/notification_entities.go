package entities

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SettlementEventType names a user-facing settlement outcome
type SettlementEventType string

const (
	EventDepositCredited     SettlementEventType = "deposit.credited"
	EventDepositCancelled    SettlementEventType = "deposit.cancelled"
	EventWithdrawalSent      SettlementEventType = "withdrawal.sent"
	EventWithdrawalCompleted SettlementEventType = "withdrawal.completed"
	EventWithdrawalFailed    SettlementEventType = "withdrawal.failed"
)

// SettlementEvent is published to downstream notification delivery
type SettlementEvent struct {
	ID              uuid.UUID           `json:"id"`
	Type            SettlementEventType `json:"type"`
	UserID          uuid.UUID           `json:"user_id"`
	Network         Network             `json:"network"`
	Token           Token               `json:"token"`
	Amount          Amount              `json:"amount"`
	AmountUSD       decimal.Decimal     `json:"amount_usd"`
	TransactionHash string              `json:"transaction_hash,omitempty"`
	ReferenceID     string              `json:"reference_id"`
	Reason          string              `json:"reason,omitempty"`
	OccurredAt      time.Time           `json:"occurred_at"`
}

// NewSettlementEvent stamps an event with an id and time
func NewSettlementEvent(eventType SettlementEventType, userID uuid.UUID, network Network, token Token) *SettlementEvent {
	return &SettlementEvent{
		ID:         uuid.New(),
		Type:       eventType,
		UserID:     userID,
		Network:    network,
		Token:      token,
		OccurredAt: time.Now().UTC(),
	}
}
