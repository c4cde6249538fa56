package entities

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Wallet is a user's deposit address on one network. Immutable once created.
type Wallet struct {
	ID         uuid.UUID `json:"id" db:"id"`
	UserID     uuid.UUID `json:"user_id" db:"user_id"`
	Network    Network   `json:"network" db:"network"`
	Address    string    `json:"address" db:"address"`
	Nonce      int64     `json:"nonce" db:"nonce"`
	HasBalance bool      `json:"has_balance" db:"has_balance"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// CryptoNonce is the per-network allocation counter
type CryptoNonce struct {
	Network   Network   `json:"network" db:"network"`
	Nonce     int64     `json:"nonce" db:"nonce"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// RippleWalletAddress encodes a treasury address and destination tag as the
// stored address of a Ripple user wallet.
func RippleWalletAddress(treasury string, tag uint32) string {
	return fmt.Sprintf("%s:%d", treasury, tag)
}

// SplitRippleWalletAddress is the inverse of RippleWalletAddress
func SplitRippleWalletAddress(addr string) (string, uint32, error) {
	i := strings.LastIndex(addr, ":")
	if i <= 0 {
		return "", 0, fmt.Errorf("ripple wallet address %q has no destination tag", addr)
	}
	tag, err := strconv.ParseUint(addr[i+1:], 10, 32)
	if err != nil {
		return "", 0, fmt.Errorf("invalid destination tag in %q: %w", addr, err)
	}
	return addr[:i], uint32(tag), nil
}

// SweepAction is the next step required to move a token out of a user wallet.
// Actions are ranked; a ledger row only moves to an equal or higher rank.
type SweepAction string

const (
	SweepActionFund    SweepAction = "fund"
	SweepActionApprove SweepAction = "approve"
	SweepActionPool    SweepAction = "pool"
)

var sweepActionRank = map[SweepAction]int{
	SweepActionFund:    0,
	SweepActionApprove: 1,
	SweepActionPool:    2,
}

// Rank returns the ordering position of the action, -1 when unknown
func (a SweepAction) Rank() int {
	if r, ok := sweepActionRank[a]; ok {
		return r
	}
	return -1
}

// IsValid checks if the action is known
func (a SweepAction) IsValid() bool {
	return a.Rank() >= 0
}

// CanAdvanceTo reports whether moving from a to next keeps the row acyclic
func (a SweepAction) CanAdvanceTo(next SweepAction) bool {
	return a.IsValid() && next.IsValid() && next.Rank() >= a.Rank()
}

// InitialSweepAction is the action recorded when a deposit first makes a wallet
// owe a sweep of token.
func InitialSweepAction(token Token) SweepAction {
	if token.RequiresAllowance() {
		return SweepActionFund
	}
	return SweepActionPool
}

// WalletBalance is a sweep ledger row, unique per (address, token)
type WalletBalance struct {
	Address        string      `json:"address" db:"address"`
	Network        Network     `json:"network" db:"network"`
	Token          Token       `json:"token" db:"token"`
	ActionRequired SweepAction `json:"action_required" db:"action_required"`
	Processing     bool        `json:"processing" db:"processing"`
	// OwnerMessageID is the outbound message holding the row while it is
	// processing.
	OwnerMessageID *uuid.UUID `json:"owner_message_id,omitempty" db:"owner_message_id"`
	// SendSequence is the last send of the owner admitted to broadcast, -1
	// before the first.
	SendSequence int       `json:"send_sequence" db:"send_seq"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// OwnedBy reports whether message id holds the row
func (b *WalletBalance) OwnedBy(id uuid.UUID) bool {
	return b.Processing && b.OwnerMessageID != nil && *b.OwnerMessageID == id
}

// Key identifies the row
func (b *WalletBalance) Key() string {
	return b.Address + "/" + string(b.Token)
}
