/**
 * @description
 * Event payloads published to RabbitMQ by the sync engine. The notification
 * side consumes these to push realtime updates to users.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// TransactionLinkedEvent is published when a cashback transaction is created
// from, or linked to, a bank transaction during a sync run.
type TransactionLinkedEvent struct {
	UserID        uuid.UUID `json:"user_id"`
	TransactionID uuid.UUID `json:"transaction_id"`
	MerchantID    uuid.UUID `json:"merchant_id"`
	Amount        float64   `json:"amount"`
	MatchScore    int       `json:"match_score"`
	Created       bool      `json:"created"` // false when an existing pending transaction gained its link
	Timestamp     time.Time `json:"timestamp"`
}

// SyncCompletedEvent is published once at the end of every sync run.
type SyncCompletedEvent struct {
	InsertedBankTx int       `json:"inserted_bank_tx"`
	LinkedTx       int       `json:"linked_tx"`
	FailureCount   int       `json:"failure_count"`
	Timestamp      time.Time `json:"timestamp"`
}
