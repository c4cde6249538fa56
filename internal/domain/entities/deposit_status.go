package entities

import "fmt"

// DepositStatus represents the status of an inbound deposit
type DepositStatus string

const (
	DepositStatusPending   DepositStatus = "pending"
	DepositStatusCompleted DepositStatus = "completed"
	DepositStatusCancelled DepositStatus = "cancelled"
)

// ValidDepositTransitions defines allowed status transitions. The
// pending→completed edge is the crediting idempotency gate.
var ValidDepositTransitions = map[DepositStatus][]DepositStatus{
	DepositStatusPending:   {DepositStatusCompleted},
	DepositStatusCompleted: {DepositStatusCancelled},
	DepositStatusCancelled: {},
}

// IsValid checks if the status is a valid deposit status
func (s DepositStatus) IsValid() bool {
	_, ok := ValidDepositTransitions[s]
	return ok
}

// CanTransitionTo checks if transition to new status is allowed
func (s DepositStatus) CanTransitionTo(newStatus DepositStatus) bool {
	for _, status := range ValidDepositTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s DepositStatus) IsTerminal() bool {
	return s == DepositStatusCompleted || s == DepositStatusCancelled
}

// WithdrawalStatus represents the status of a user withdrawal
type WithdrawalStatus string

const (
	WithdrawalStatusPending      WithdrawalStatus = "pending"
	WithdrawalStatusProcessing   WithdrawalStatus = "processing"
	WithdrawalStatusReprocessing WithdrawalStatus = "reprocessing"
	WithdrawalStatusSent         WithdrawalStatus = "sent"
	WithdrawalStatusCompleted    WithdrawalStatus = "completed"
	WithdrawalStatusFailed       WithdrawalStatus = "failed"
)

// ValidWithdrawalTransitions defines allowed withdrawal status transitions
var ValidWithdrawalTransitions = map[WithdrawalStatus][]WithdrawalStatus{
	WithdrawalStatusPending:      {WithdrawalStatusProcessing, WithdrawalStatusFailed},
	WithdrawalStatusReprocessing: {WithdrawalStatusProcessing, WithdrawalStatusFailed},
	WithdrawalStatusProcessing:   {WithdrawalStatusSent, WithdrawalStatusReprocessing, WithdrawalStatusFailed},
	WithdrawalStatusSent:         {WithdrawalStatusCompleted, WithdrawalStatusFailed, WithdrawalStatusReprocessing},
	WithdrawalStatusCompleted:    {},
	WithdrawalStatusFailed:       {},
}

// SendableWithdrawalStatuses are the states from which a send may start
var SendableWithdrawalStatuses = []WithdrawalStatus{WithdrawalStatusPending, WithdrawalStatusReprocessing}

// IsValid checks if the status is known
func (s WithdrawalStatus) IsValid() bool {
	_, ok := ValidWithdrawalTransitions[s]
	return ok
}

// CanTransitionTo checks if transition to new status is allowed
func (s WithdrawalStatus) CanTransitionTo(newStatus WithdrawalStatus) bool {
	for _, status := range ValidWithdrawalTransitions[s] {
		if status == newStatus {
			return true
		}
	}
	return false
}

// IsTerminal returns true if this is a terminal state
func (s WithdrawalStatus) IsTerminal() bool {
	return s == WithdrawalStatusCompleted || s == WithdrawalStatusFailed
}

// ValidateTransition validates and returns error if transition is invalid
func (s WithdrawalStatus) ValidateTransition(newStatus WithdrawalStatus) error {
	if !newStatus.IsValid() {
		return fmt.Errorf("invalid withdrawal status: %s", newStatus)
	}
	if !s.CanTransitionTo(newStatus) {
		return fmt.Errorf("invalid status transition from %s to %s", s, newStatus)
	}
	return nil
}

// OutgoingTransactionStatus is the on-chain outcome of a broadcast
type OutgoingTransactionStatus string

const (
	OutgoingStatusPending   OutgoingTransactionStatus = "pending"
	OutgoingStatusCompleted OutgoingTransactionStatus = "completed"
	OutgoingStatusReverted  OutgoingTransactionStatus = "reverted"
)
