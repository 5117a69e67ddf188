/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains the SQL for the five tables the sync engine
 * touches: bank_connections, bank_accounts, raw_bank_transactions,
 * merchants (+ merchant_match_profiles) and cashback_transactions.
 *
 * @dependencies
 * - context, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Raw bank transactions upsert on external_tx_id and cashback
 *   transactions carry a unique (user_id, dedup_key) constraint; both are
 *   the natural keys the spec's idempotence guarantees hang off.
 * - ResolveCashbackTransaction locks the dedup row and performs the
 *   conditional insert/update inside one database transaction, so two
 *   concurrent sync runs cannot create duplicate cashback transactions.
 */

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pawpass/banksync-service/internal/domain"
)

var (
	ErrConnectionNotFound = errors.New("bank connection not found")
	ErrAccountNotFound    = errors.New("bank account not found")
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateBankConnection persists a new connection in status 'created'.
func (r *PostgresRepository) CreateBankConnection(ctx context.Context, conn *domain.BankConnection) error {
	query := `
		INSERT INTO bank_connections (id, user_id, provider, requisition_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		RETURNING created_at, updated_at`
	return r.db.QueryRow(ctx, query,
		conn.ID, conn.UserID, conn.Provider, conn.RequisitionID, conn.Status,
	).Scan(&conn.CreatedAt, &conn.UpdatedAt)
}

// FindBankConnectionByID retrieves one connection scoped to its owner.
func (r *PostgresRepository) FindBankConnectionByID(ctx context.Context, connectionID, userID uuid.UUID) (*domain.BankConnection, error) {
	var conn domain.BankConnection
	query := `
		SELECT id, user_id, provider, requisition_id, status, created_at, updated_at
		FROM bank_connections
		WHERE id = $1 AND user_id = $2`
	err := r.db.QueryRow(ctx, query, connectionID, userID).Scan(
		&conn.ID, &conn.UserID, &conn.Provider, &conn.RequisitionID, &conn.Status, &conn.CreatedAt, &conn.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConnectionNotFound
		}
		return nil, err
	}
	return &conn, nil
}

// FindBankConnectionsByUserID lists a user's connections, newest first.
func (r *PostgresRepository) FindBankConnectionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.BankConnection, error) {
	query := `
		SELECT id, user_id, provider, requisition_id, status, created_at, updated_at
		FROM bank_connections
		WHERE user_id = $1
		ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConnections(rows)
}

// FindActiveBankConnections lists every connection the sync engine should
// process.
func (r *PostgresRepository) FindActiveBankConnections(ctx context.Context) ([]domain.BankConnection, error) {
	query := `
		SELECT id, user_id, provider, requisition_id, status, created_at, updated_at
		FROM bank_connections
		WHERE status = $1
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, domain.ConnectionStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanConnections(rows)
}

func scanConnections(rows pgx.Rows) ([]domain.BankConnection, error) {
	var connections []domain.BankConnection
	for rows.Next() {
		var conn domain.BankConnection
		if err := rows.Scan(&conn.ID, &conn.UserID, &conn.Provider, &conn.RequisitionID, &conn.Status, &conn.CreatedAt, &conn.UpdatedAt); err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

// ActivateBankConnection flips a connection to 'active' once the provider
// confirmed linkage.
func (r *PostgresRepository) ActivateBankConnection(ctx context.Context, connectionID uuid.UUID) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE bank_connections SET status = $1, updated_at = now() WHERE id = $2`,
		domain.ConnectionStatusActive, connectionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConnectionNotFound
	}
	return nil
}

// UpsertBankAccount inserts or refreshes one account keyed by its external
// account id, returning the stored row either way.
func (r *PostgresRepository) UpsertBankAccount(ctx context.Context, account *domain.BankAccount) (*domain.BankAccount, error) {
	query := `
		INSERT INTO bank_accounts (id, connection_id, user_id, external_account_id, status, created_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (external_account_id) DO UPDATE
		SET connection_id = EXCLUDED.connection_id,
		    status = EXCLUDED.status
		RETURNING id, connection_id, user_id, external_account_id, status, created_at`
	var stored domain.BankAccount
	err := r.db.QueryRow(ctx, query,
		account.ID, account.ConnectionID, account.UserID, account.ExternalAccountID, account.Status,
	).Scan(&stored.ID, &stored.ConnectionID, &stored.UserID, &stored.ExternalAccountID, &stored.Status, &stored.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &stored, nil
}

// FindBankAccountsByConnection lists the accounts behind one connection,
// filtered by the owning user.
func (r *PostgresRepository) FindBankAccountsByConnection(ctx context.Context, connectionID, userID uuid.UUID) ([]domain.BankAccount, error) {
	query := `
		SELECT id, connection_id, user_id, external_account_id, status, created_at
		FROM bank_accounts
		WHERE connection_id = $1 AND user_id = $2
		ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, connectionID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []domain.BankAccount
	for rows.Next() {
		var account domain.BankAccount
		if err := rows.Scan(&account.ID, &account.ConnectionID, &account.UserID, &account.ExternalAccountID, &account.Status, &account.CreatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	return accounts, rows.Err()
}

// FindMerchants lists every registered merchant, active or not; the matcher
// does the is_active filtering so one query serves the whole run.
func (r *PostgresRepository) FindMerchants(ctx context.Context) ([]domain.Merchant, error) {
	rows, err := r.db.Query(ctx, `SELECT id, name, is_active FROM merchants ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var merchants []domain.Merchant
	for rows.Next() {
		var merchant domain.Merchant
		if err := rows.Scan(&merchant.ID, &merchant.Name, &merchant.IsActive); err != nil {
			return nil, err
		}
		merchants = append(merchants, merchant)
	}
	return merchants, rows.Err()
}

// FindMerchantMatchProfiles loads every merchant's keyword and city-token
// lists in one pass.
func (r *PostgresRepository) FindMerchantMatchProfiles(ctx context.Context) ([]domain.MerchantMatchProfile, error) {
	rows, err := r.db.Query(ctx, `SELECT merchant_id, keywords, city_tokens FROM merchant_match_profiles`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var profiles []domain.MerchantMatchProfile
	for rows.Next() {
		var profile domain.MerchantMatchProfile
		if err := rows.Scan(&profile.MerchantID, &profile.Keywords, &profile.CityTokens); err != nil {
			return nil, err
		}
		profiles = append(profiles, profile)
	}
	return profiles, rows.Err()
}

// UpsertRawBankTransaction inserts or updates the immutable provider record
// keyed by external_tx_id and returns the storage id post-upsert.
func (r *PostgresRepository) UpsertRawBankTransaction(ctx context.Context, tx *domain.RawBankTransaction) (uuid.UUID, error) {
	query := `
		INSERT INTO raw_bank_transactions
			(id, user_id, bank_account_id, external_tx_id, booked_at, amount, currency, raw_descriptor, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (external_tx_id) DO UPDATE
		SET booked_at = EXCLUDED.booked_at,
		    amount = EXCLUDED.amount,
		    currency = EXCLUDED.currency,
		    raw_descriptor = EXCLUDED.raw_descriptor
		RETURNING id`
	var id uuid.UUID
	err := r.db.QueryRow(ctx, query,
		tx.ID, tx.UserID, tx.BankAccountID, tx.ExternalTxID, tx.BookedAt, tx.Amount, tx.Currency, tx.RawDescriptor,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// ResolveCashbackTransaction creates or links the cashback transaction for
// one matched bank transaction. The dedup lookup and the conditional write
// run inside a single database transaction with the row locked, and the
// unique (user_id, dedup_key) constraint backstops the insert against a
// concurrent run that slipped past the lock.
func (r *PostgresRepository) ResolveCashbackTransaction(ctx context.Context, params ResolveCashbackParams) (ResolveOutcome, uuid.UUID, error) {
	dbTx, err := r.db.Begin(ctx)
	if err != nil {
		return OutcomeAlreadyLinked, uuid.Nil, err
	}
	defer dbTx.Rollback(ctx)

	outcome, id, err := resolveCashbackInTx(ctx, dbTx, params)
	if err != nil {
		return outcome, id, err
	}

	if err := dbTx.Commit(ctx); err != nil {
		return outcome, id, err
	}
	return outcome, id, nil
}

func resolveCashbackInTx(ctx context.Context, dbTx pgx.Tx, params ResolveCashbackParams) (ResolveOutcome, uuid.UUID, error) {
	var (
		existingID   uuid.UUID
		existingLink *uuid.UUID
	)
	err := dbTx.QueryRow(ctx,
		`SELECT id, bank_transaction_id FROM cashback_transactions
		 WHERE user_id = $1 AND dedup_key = $2
		 FOR UPDATE`,
		params.UserID, params.DedupKey,
	).Scan(&existingID, &existingLink)

	switch {
	case err == nil:
		if existingLink != nil {
			// The link is only ever filled in, never replaced.
			return OutcomeAlreadyLinked, existingID, nil
		}
		_, err = dbTx.Exec(ctx,
			`UPDATE cashback_transactions
			 SET bank_transaction_id = $1, confirmed_at = $2, match_score = $3, updated_at = now()
			 WHERE id = $4`,
			params.BankTransactionID, params.ConfirmedAt, params.MatchScore, existingID)
		if err != nil {
			return OutcomeLinked, existingID, err
		}
		return OutcomeLinked, existingID, nil

	case errors.Is(err, pgx.ErrNoRows):
		newID := uuid.New()
		tag, err := dbTx.Exec(ctx,
			`INSERT INTO cashback_transactions
				(id, user_id, merchant_id, amount, dedup_key, bank_transaction_id, confirmed_at, match_score, status, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
			 ON CONFLICT (user_id, dedup_key) DO NOTHING`,
			newID, params.UserID, params.MerchantID, params.Amount, params.DedupKey,
			params.BankTransactionID, params.ConfirmedAt, params.MatchScore, domain.TransactionStatusPending)
		if err != nil {
			return OutcomeCreated, uuid.Nil, err
		}
		if tag.RowsAffected() == 0 {
			// A concurrent run created the row between our lock attempt and
			// the insert; treat it as already resolved.
			return OutcomeAlreadyLinked, uuid.Nil, nil
		}
		return OutcomeCreated, newID, nil

	default:
		return OutcomeAlreadyLinked, uuid.Nil, fmt.Errorf("dedup lookup failed: %w", err)
	}
}
