/**
 * @description
 * This file contains the core application service for the banksync-service:
 * the connection lifecycle operations (create, complete, list) and the sync
 * orchestrator that pulls booked transactions from the bank provider,
 * persists them idempotently, matches them to merchants and creates or
 * links cashback transactions.
 *
 * @dependencies
 * - context, errors, fmt, log, math, strconv, time: Standard Go libraries.
 * - internal/domain, internal/match, internal/store: Models, matching engine, persistence.
 * - pkg/bankclient: The bank-aggregation provider adapter.
 * - pkg/rabbitmq: Event publishing.
 *
 * @notes
 * - One sync run is a single logical worker walking connections, accounts
 *   and transactions sequentially; volumes are personal banking feeds, not
 *   firehoses, so there is no fan-out.
 * - Provider failures are isolated per connection and reported in the
 *   result; persistence failures abort the run. Already-committed upserts
 *   from earlier iterations stand either way (at-least-once semantics).
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/pawpass/banksync-service/internal/domain"
	"github.com/pawpass/banksync-service/internal/match"
	"github.com/pawpass/banksync-service/internal/store"
	"github.com/pawpass/banksync-service/pkg/bankclient"
	"github.com/pawpass/banksync-service/pkg/rabbitmq"
)

// unknownDescriptor is stored when the provider reports no descriptor at all.
const unknownDescriptor = "unknown"

// ErrConnectionNotActive is returned when a sync-related operation targets a
// connection that has not completed its authorization flow.
var ErrConnectionNotActive = errors.New("bank connection is not active")

// RateLimitedError is returned when a user exceeds the connection-creation
// rate limit.
type RateLimitedError struct {
	RetryAfterSeconds int
}

func (e *RateLimitedError) Error() string {
	return "connection creation rate limit exceeded"
}

// ConnectionRateLimiter is the distributed limiter guarding the public
// connection-creation endpoint.
type ConnectionRateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service holds the business logic of the banksync-service.
type Service struct {
	repo            store.Repository
	provider        bankclient.Provider
	providerName    string
	publisher       rabbitmq.Publisher
	defaultCurrency string
	providerTimeout time.Duration

	rateLimiter         ConnectionRateLimiter
	connectionRateLimit int
}

// NewService creates the application service with its dependencies. The
// provider is injected rather than resolved from globals so tests can swap
// in a fake.
func NewService(
	repo store.Repository,
	provider bankclient.Provider,
	providerName string,
	publisher rabbitmq.Publisher,
	defaultCurrency string,
	providerTimeout time.Duration,
) *Service {
	if publisher == nil {
		publisher = &rabbitmq.NoopPublisher{}
	}
	if providerTimeout <= 0 {
		providerTimeout = 30 * time.Second
	}
	return &Service{
		repo:            repo,
		provider:        provider,
		providerName:    providerName,
		publisher:       publisher,
		defaultCurrency: defaultCurrency,
		providerTimeout: providerTimeout,
	}
}

// SetConnectionRateLimiter wires the optional limiter for connection creation.
func (s *Service) SetConnectionRateLimiter(limiter ConnectionRateLimiter, limitPerMinute int) {
	s.rateLimiter = limiter
	s.connectionRateLimit = limitPerMinute
}

// CreateConnection starts a bank-authorization flow for the user: asks the
// provider for a requisition, persists a connection in status 'created' and
// returns the link the user must visit.
func (s *Service) CreateConnection(ctx context.Context, userID uuid.UUID, redirectURL string) (*domain.CreateConnectionResponse, error) {
	if s.rateLimiter != nil && s.connectionRateLimit > 0 {
		count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "bank_connection_create", userID.String(), s.connectionRateLimit, time.Minute)
		if err != nil {
			// Fail open: a limiter outage must not block legitimate users.
			log.Printf("level=warn component=banksync msg=\"rate limiter unavailable; allowing request\" user_id=%s err=%v", userID, err)
		} else if count > s.connectionRateLimit {
			return nil, &RateLimitedError{RetryAfterSeconds: retryAfter}
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	link, err := s.provider.CreateConnectionLink(callCtx, userID.String(), redirectURL)
	if err != nil {
		return nil, fmt.Errorf("provider link creation failed: %w", err)
	}

	conn := &domain.BankConnection{
		ID:            uuid.New(),
		UserID:        userID,
		Provider:      s.providerName,
		RequisitionID: link.RequisitionID,
		Status:        domain.ConnectionStatusCreated,
	}
	if err := s.repo.CreateBankConnection(ctx, conn); err != nil {
		return nil, err
	}

	return &domain.CreateConnectionResponse{Connection: *conn, Link: link.Link}, nil
}

// CompleteConnection resolves a returned-from authorization flow: asks the
// provider for the discovered accounts, upserts one BankAccount per external
// account id and flips the connection to 'active'. Safe to repeat: accounts
// upsert on their external id and activation is a no-op the second time.
func (s *Service) CompleteConnection(ctx context.Context, userID, connectionID uuid.UUID) (*domain.CompleteConnectionResponse, error) {
	conn, err := s.repo.FindBankConnectionByID(ctx, connectionID, userID)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()

	externalAccountIDs, err := s.provider.CompleteConnection(callCtx, conn.RequisitionID)
	if err != nil {
		return nil, fmt.Errorf("provider completion failed: %w", err)
	}

	accounts := make([]domain.BankAccount, 0, len(externalAccountIDs))
	for _, externalAccountID := range externalAccountIDs {
		stored, err := s.repo.UpsertBankAccount(ctx, &domain.BankAccount{
			ID:                uuid.New(),
			ConnectionID:      conn.ID,
			UserID:            userID,
			ExternalAccountID: externalAccountID,
			Status:            "active",
		})
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *stored)
	}

	if conn.Status != domain.ConnectionStatusActive {
		if err := s.repo.ActivateBankConnection(ctx, conn.ID); err != nil {
			return nil, err
		}
		conn.Status = domain.ConnectionStatusActive
	}

	return &domain.CompleteConnectionResponse{Connection: *conn, Accounts: accounts}, nil
}

// ListConnections returns the user's bank connections.
func (s *Service) ListConnections(ctx context.Context, userID uuid.UUID) ([]domain.BankConnection, error) {
	return s.repo.FindBankConnectionsByUserID(ctx, userID)
}

// RunSync walks every active connection, fetches booked transactions,
// persists them idempotently, matches merchants and creates or links
// cashback transactions. Provider failures are recorded per connection and
// the run continues; persistence failures abort the run.
func (s *Service) RunSync(ctx context.Context) (domain.SyncResult, error) {
	var result domain.SyncResult

	connections, err := s.repo.FindActiveBankConnections(ctx)
	if err != nil {
		return result, err
	}
	if len(connections) == 0 {
		log.Printf("level=info component=banksync msg=\"no active connections; nothing to sync\"")
		return result, nil
	}

	// One merchant/profile load serves the entire run; the index is
	// read-only from here on.
	merchants, err := s.repo.FindMerchants(ctx)
	if err != nil {
		return result, err
	}
	profiles, err := s.repo.FindMerchantMatchProfiles(ctx)
	if err != nil {
		return result, err
	}
	index := match.BuildProfileIndex(profiles)

	for _, conn := range connections {
		accounts, err := s.repo.FindBankAccountsByConnection(ctx, conn.ID, conn.UserID)
		if err != nil {
			return result, err
		}
		if len(accounts) == 0 {
			continue
		}

		if err := s.syncConnection(ctx, conn, accounts, merchants, index, &result); err != nil {
			if isPersistenceAbort(err) {
				return result, err
			}
			log.Printf("level=warn component=banksync msg=\"connection sync failed; continuing\" connection_id=%s err=%v", conn.ID, err)
			result.Failures = append(result.Failures, domain.SyncFailure{
				ConnectionID: conn.ID,
				Error:        err.Error(),
			})
		}
	}

	if err := s.publisher.PublishSyncCompleted(ctx, domain.SyncCompletedEvent{
		InsertedBankTx: result.InsertedBankTx,
		LinkedTx:       result.LinkedTx,
		FailureCount:   len(result.Failures),
		Timestamp:      time.Now().UTC(),
	}); err != nil {
		log.Printf("level=warn component=banksync msg=\"sync completed event publish failed\" err=%v", err)
	}

	return result, nil
}

// persistenceError wraps repository failures inside syncConnection so the
// caller can tell them apart from provider failures: the former abort the
// run, the latter only fail the connection.
type persistenceError struct{ err error }

func (e *persistenceError) Error() string { return e.err.Error() }
func (e *persistenceError) Unwrap() error { return e.err }

func isPersistenceAbort(err error) bool {
	var pe *persistenceError
	return errors.As(err, &pe)
}

func (s *Service) syncConnection(
	ctx context.Context,
	conn domain.BankConnection,
	accounts []domain.BankAccount,
	merchants []domain.Merchant,
	index match.ProfileIndex,
	result *domain.SyncResult,
) error {
	for _, account := range accounts {
		transactions, err := s.fetchBookedTransactions(ctx, account.ExternalAccountID)
		if err != nil {
			return fmt.Errorf("fetch for account %s: %w", account.ExternalAccountID, err)
		}

		for _, tx := range transactions {
			if err := s.processTransaction(ctx, account, tx, merchants, index, result); err != nil {
				return err
			}
		}
	}
	return nil
}

// fetchBookedTransactions wraps the provider call in the configured timeout,
// so one hung provider cannot poison the rest of the run.
func (s *Service) fetchBookedTransactions(ctx context.Context, externalAccountID string) ([]bankclient.BankTransaction, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.providerTimeout)
	defer cancel()
	return s.provider.FetchBookedTransactions(callCtx, externalAccountID)
}

// processTransaction handles one fetched transaction: validate, upsert the
// raw record, match, dedup and resolve. Validation failures are local skips;
// repository failures are wrapped as persistence aborts.
func (s *Service) processTransaction(
	ctx context.Context,
	account domain.BankAccount,
	tx bankclient.BankTransaction,
	merchants []domain.Merchant,
	index match.ProfileIndex,
	result *domain.SyncResult,
) error {
	if tx.ExternalTxID == "" {
		log.Printf("level=warn component=banksync msg=\"skipping transaction without external id\" account_id=%s", account.ID)
		return nil
	}

	amount, err := strconv.ParseFloat(tx.Amount, 64)
	if err != nil || math.IsNaN(amount) || math.IsInf(amount, 0) {
		log.Printf("level=warn component=banksync msg=\"skipping transaction with non-finite amount\" external_tx_id=%s amount=%q", tx.ExternalTxID, tx.Amount)
		return nil
	}

	bookedAt, err := parseBookedAt(tx.BookedAt)
	if err != nil {
		log.Printf("level=warn component=banksync msg=\"skipping transaction with unparsable booking time\" external_tx_id=%s booked_at=%q", tx.ExternalTxID, tx.BookedAt)
		return nil
	}

	currency := tx.Currency
	if currency == "" {
		currency = s.defaultCurrency
	}
	descriptor := tx.RawDescriptor
	if descriptor == "" {
		descriptor = unknownDescriptor
	}

	rawTxID, err := s.repo.UpsertRawBankTransaction(ctx, &domain.RawBankTransaction{
		ID:            uuid.New(),
		UserID:        account.UserID,
		BankAccountID: account.ID,
		ExternalTxID:  tx.ExternalTxID,
		BookedAt:      bookedAt,
		Amount:        amount,
		Currency:      currency,
		RawDescriptor: descriptor,
	})
	if err != nil {
		return &persistenceError{err: fmt.Errorf("raw transaction upsert failed: %w", err)}
	}
	// Counts updates of existing rows too; the name is historical.
	result.InsertedBankTx++

	bestMatch := match.FindBestMatch(descriptor, merchants, index)
	if bestMatch == nil {
		// The raw transaction stays persisted but unlinked.
		return nil
	}

	dedupKey := match.ComputeDedupKey(account.UserID, bestMatch.MerchantID, amount, bookedAt)

	outcome, cashbackTxID, err := s.repo.ResolveCashbackTransaction(ctx, store.ResolveCashbackParams{
		UserID:            account.UserID,
		MerchantID:        bestMatch.MerchantID,
		Amount:            amount,
		DedupKey:          dedupKey,
		BankTransactionID: rawTxID,
		MatchScore:        bestMatch.Score,
		ConfirmedAt:       time.Now().UTC(),
	})
	if err != nil {
		return &persistenceError{err: fmt.Errorf("cashback transaction resolve failed: %w", err)}
	}
	if outcome == store.OutcomeAlreadyLinked {
		return nil
	}

	// Created and linked share one counter; callers never needed the split.
	result.LinkedTx++

	if err := s.publisher.PublishTransactionLinked(ctx, domain.TransactionLinkedEvent{
		UserID:        account.UserID,
		TransactionID: cashbackTxID,
		MerchantID:    bestMatch.MerchantID,
		Amount:        amount,
		MatchScore:    bestMatch.Score,
		Created:       outcome == store.OutcomeCreated,
		Timestamp:     time.Now().UTC(),
	}); err != nil {
		log.Printf("level=warn component=banksync msg=\"transaction linked event publish failed\" external_tx_id=%s err=%v", tx.ExternalTxID, err)
	}

	return nil
}

// parseBookedAt accepts the timestamp shapes providers actually send: full
// RFC3339, a naive datetime, or a bare booking date.
func parseBookedAt(value string) (time.Time, error) {
	layouts := []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized booking time %q", value)
}
