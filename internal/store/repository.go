/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the banksync-service performs. The sync engine and the API layer
 * depend on this interface, never on the PostgreSQL implementation, which
 * keeps the orchestrator testable with in-memory stubs.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/pawpass/banksync-service/internal/domain"
)

// ResolveOutcome describes what ResolveCashbackTransaction did for one
// (user, dedup key) pair.
type ResolveOutcome int

const (
	// OutcomeAlreadyLinked: a transaction existed and already carried a bank
	// link; nothing was changed.
	OutcomeAlreadyLinked ResolveOutcome = iota
	// OutcomeLinked: a pending transaction existed without a bank link and
	// gained one.
	OutcomeLinked
	// OutcomeCreated: no transaction existed; a new pending one was created
	// with the bank link attached.
	OutcomeCreated
)

// ResolveCashbackParams carries everything needed to create or link one
// cashback transaction for a matched bank transaction.
type ResolveCashbackParams struct {
	UserID            uuid.UUID
	MerchantID        uuid.UUID
	Amount            float64
	DedupKey          string
	BankTransactionID uuid.UUID
	MatchScore        int
	ConfirmedAt       time.Time
}

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Bank connection methods
	CreateBankConnection(ctx context.Context, conn *domain.BankConnection) error
	FindBankConnectionByID(ctx context.Context, connectionID, userID uuid.UUID) (*domain.BankConnection, error)
	FindBankConnectionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.BankConnection, error)
	FindActiveBankConnections(ctx context.Context) ([]domain.BankConnection, error)
	ActivateBankConnection(ctx context.Context, connectionID uuid.UUID) error

	// Bank account methods
	// UpsertBankAccount inserts or refreshes a row keyed by the external
	// account id, so repeated connection completions stay idempotent.
	UpsertBankAccount(ctx context.Context, account *domain.BankAccount) (*domain.BankAccount, error)
	FindBankAccountsByConnection(ctx context.Context, connectionID, userID uuid.UUID) ([]domain.BankAccount, error)

	// Merchant methods (read-only for this service)
	FindMerchants(ctx context.Context) ([]domain.Merchant, error)
	FindMerchantMatchProfiles(ctx context.Context) ([]domain.MerchantMatchProfile, error)

	// Raw bank transaction methods
	// UpsertRawBankTransaction inserts or updates the row keyed by the
	// external transaction id and returns the storage id either way.
	UpsertRawBankTransaction(ctx context.Context, tx *domain.RawBankTransaction) (uuid.UUID, error)

	// Cashback transaction methods
	// ResolveCashbackTransaction runs the dedup lookup and the conditional
	// create-or-link as one atomic database transaction, returning the
	// cashback transaction's id alongside what happened to it.
	ResolveCashbackTransaction(ctx context.Context, params ResolveCashbackParams) (ResolveOutcome, uuid.UUID, error)
}
