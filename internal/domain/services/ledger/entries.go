package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/baymax-09/roobet-casino-sub000/internal/domain/entities"
)

// DepositKey is the idempotency key of a deposit credit
func DepositKey(depositID uuid.UUID) string {
	return fmt.Sprintf("deposit:%s", depositID)
}

// DepositEntry builds the credit of a confirmed deposit
func DepositEntry(userID, depositID uuid.UUID, amountUSD decimal.Decimal, token entities.Token, network entities.Network) *entities.CreateEntryRequest {
	return &entities.CreateEntryRequest{
		UserID:         userID,
		EntryType:      entities.EntryTypeDeposit,
		Amount:         amountUSD,
		ReferenceID:    depositID.String(),
		IdempotencyKey: DepositKey(depositID),
		Description:    fmt.Sprintf("%s deposit on %s", token, network),
	}
}
