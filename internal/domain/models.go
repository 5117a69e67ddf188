/**
 * @description
 * This file defines the core domain models for the banksync-service.
 * These structs represent the entities the sync engine reads and writes:
 * bank connections and accounts, raw provider transactions, merchants with
 * their match profiles, and the cashback transactions the matcher links
 * them to.
 *
 * @notes
 * - Amounts are carried as float64 because that is what the bank aggregator
 *   reports; the dedup key computation pins them to cents precision before
 *   any comparison, so float formatting never leaks into identity.
 * - `RawBankTransaction.ExternalTxID` and `CashbackTransaction.DedupKey`
 *   are the two natural idempotency keys the whole sync converges on.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Bank connection statuses.
const (
	ConnectionStatusCreated = "created"
	ConnectionStatusActive  = "active"
)

// Cashback transaction statuses.
const (
	TransactionStatusPending   = "pending"
	TransactionStatusConfirmed = "confirmed"
)

// BankConnection represents one user's authorization to pull transactions
// from an external bank session. It maps to the `bank_connections` table.
type BankConnection struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	Provider      string    `json:"provider"`
	RequisitionID string    `json:"requisition_id"`
	Status        string    `json:"status"` // 'created' or 'active'
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// BankAccount is one physical or virtual account behind a connection.
// Rows are upserted by ExternalAccountID so repeated connection completions
// stay idempotent.
type BankAccount struct {
	ID                uuid.UUID `json:"id"`
	ConnectionID      uuid.UUID `json:"connection_id"`
	UserID            uuid.UUID `json:"user_id"`
	ExternalAccountID string    `json:"external_account_id"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// RawBankTransaction is an immutable record of a transaction exactly as the
// provider reported it. ExternalTxID is globally unique; re-ingesting the
// same id updates the existing row instead of creating a second one.
type RawBankTransaction struct {
	ID            uuid.UUID `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	BankAccountID uuid.UUID `json:"bank_account_id"`
	ExternalTxID  string    `json:"external_tx_id"`
	BookedAt      time.Time `json:"booked_at"`
	Amount        float64   `json:"amount"` // signed, provider units
	Currency      string    `json:"currency"`
	RawDescriptor string    `json:"raw_descriptor"`
	CreatedAt     time.Time `json:"created_at"`
}

// Merchant is the registered partner a bank descriptor can match against.
// Read-only from this service's perspective.
type Merchant struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	IsActive bool      `json:"is_active"`
}

// MerchantMatchProfile carries the per-merchant keyword and city-token lists
// the matcher scores a normalized descriptor against.
type MerchantMatchProfile struct {
	MerchantID uuid.UUID `json:"merchant_id"`
	Keywords   []string  `json:"keywords"`
	CityTokens []string  `json:"city_tokens"`
}

// CashbackTransaction is the application-level purchase/cashback record.
// The sync engine creates it when a matched bank transaction has no
// counterpart, or fills in BankTransactionID when a dedup match is found
// without a link. A link, once set, is never overwritten.
type CashbackTransaction struct {
	ID                uuid.UUID  `json:"id"`
	UserID            uuid.UUID  `json:"user_id"`
	MerchantID        uuid.UUID  `json:"merchant_id"`
	Amount            float64    `json:"amount"`
	DedupKey          string     `json:"dedup_key"`
	BankTransactionID *uuid.UUID `json:"bank_transaction_id,omitempty"`
	ConfirmedAt       *time.Time `json:"confirmed_at,omitempty"`
	MatchScore        int        `json:"match_score"`
	Status            string     `json:"status"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// SyncFailure records one connection's failure without aborting the run.
type SyncFailure struct {
	ConnectionID uuid.UUID `json:"connection_id"`
	Error        string    `json:"error"`
}

// SyncResult is the outcome of one sync run.
//
// InsertedBankTx counts every raw upsert, including updates of rows that
// already existed; LinkedTx counts both newly created and newly linked
// cashback transactions. The names predate this service and are kept for
// compatibility with the callers that read them.
type SyncResult struct {
	InsertedBankTx int           `json:"inserted_bank_tx"`
	LinkedTx       int           `json:"linked_tx"`
	Failures       []SyncFailure `json:"failures,omitempty"`
}

// CreateConnectionResponse is returned to the client that initiated a bank
// connection: the persisted connection plus the provider URL the user must
// visit to authorize it.
type CreateConnectionResponse struct {
	Connection BankConnection `json:"connection"`
	Link       string         `json:"link"`
}

// CompleteConnectionResponse summarizes a connection completion.
type CompleteConnectionResponse struct {
	Connection BankConnection `json:"connection"`
	Accounts   []BankAccount  `json:"accounts"`
}
