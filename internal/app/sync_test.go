package app

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/pawpass/banksync-service/internal/domain"
	"github.com/pawpass/banksync-service/internal/match"
	"github.com/pawpass/banksync-service/internal/store"
	"github.com/pawpass/banksync-service/pkg/bankclient"
)

// fakeRepo is an in-memory Repository with real idempotency semantics, so
// the sync tests can assert convergence across repeated runs.
type fakeRepo struct {
	connections []domain.BankConnection
	accounts    map[uuid.UUID][]domain.BankAccount // keyed by connection id
	merchants   []domain.Merchant
	profiles    []domain.MerchantMatchProfile

	rawByExternalID map[string]domain.RawBankTransaction
	cashbackByKey   map[string]*domain.CashbackTransaction // user:dedup_key

	failRawUpsert bool
	failResolve   bool
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		accounts:        make(map[uuid.UUID][]domain.BankAccount),
		rawByExternalID: make(map[string]domain.RawBankTransaction),
		cashbackByKey:   make(map[string]*domain.CashbackTransaction),
	}
}

func (f *fakeRepo) CreateBankConnection(ctx context.Context, conn *domain.BankConnection) error {
	conn.CreatedAt = time.Now()
	conn.UpdatedAt = conn.CreatedAt
	f.connections = append(f.connections, *conn)
	return nil
}

func (f *fakeRepo) FindBankConnectionByID(ctx context.Context, connectionID, userID uuid.UUID) (*domain.BankConnection, error) {
	for i := range f.connections {
		if f.connections[i].ID == connectionID && f.connections[i].UserID == userID {
			conn := f.connections[i]
			return &conn, nil
		}
	}
	return nil, store.ErrConnectionNotFound
}

func (f *fakeRepo) FindBankConnectionsByUserID(ctx context.Context, userID uuid.UUID) ([]domain.BankConnection, error) {
	var out []domain.BankConnection
	for _, conn := range f.connections {
		if conn.UserID == userID {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindActiveBankConnections(ctx context.Context) ([]domain.BankConnection, error) {
	var out []domain.BankConnection
	for _, conn := range f.connections {
		if conn.Status == domain.ConnectionStatusActive {
			out = append(out, conn)
		}
	}
	return out, nil
}

func (f *fakeRepo) ActivateBankConnection(ctx context.Context, connectionID uuid.UUID) error {
	for i := range f.connections {
		if f.connections[i].ID == connectionID {
			f.connections[i].Status = domain.ConnectionStatusActive
			return nil
		}
	}
	return store.ErrConnectionNotFound
}

func (f *fakeRepo) UpsertBankAccount(ctx context.Context, account *domain.BankAccount) (*domain.BankAccount, error) {
	for connID, accounts := range f.accounts {
		for i := range accounts {
			if accounts[i].ExternalAccountID == account.ExternalAccountID {
				accounts[i].Status = account.Status
				stored := accounts[i]
				f.accounts[connID] = accounts
				return &stored, nil
			}
		}
	}
	stored := *account
	stored.CreatedAt = time.Now()
	f.accounts[account.ConnectionID] = append(f.accounts[account.ConnectionID], stored)
	return &stored, nil
}

func (f *fakeRepo) FindBankAccountsByConnection(ctx context.Context, connectionID, userID uuid.UUID) ([]domain.BankAccount, error) {
	var out []domain.BankAccount
	for _, account := range f.accounts[connectionID] {
		if account.UserID == userID {
			out = append(out, account)
		}
	}
	return out, nil
}

func (f *fakeRepo) FindMerchants(ctx context.Context) ([]domain.Merchant, error) {
	return f.merchants, nil
}

func (f *fakeRepo) FindMerchantMatchProfiles(ctx context.Context) ([]domain.MerchantMatchProfile, error) {
	return f.profiles, nil
}

func (f *fakeRepo) UpsertRawBankTransaction(ctx context.Context, tx *domain.RawBankTransaction) (uuid.UUID, error) {
	if f.failRawUpsert {
		return uuid.Nil, errors.New("simulated raw upsert failure")
	}
	if existing, ok := f.rawByExternalID[tx.ExternalTxID]; ok {
		existing.BookedAt = tx.BookedAt
		existing.Amount = tx.Amount
		existing.Currency = tx.Currency
		existing.RawDescriptor = tx.RawDescriptor
		f.rawByExternalID[tx.ExternalTxID] = existing
		return existing.ID, nil
	}
	stored := *tx
	f.rawByExternalID[tx.ExternalTxID] = stored
	return stored.ID, nil
}

func (f *fakeRepo) ResolveCashbackTransaction(ctx context.Context, params store.ResolveCashbackParams) (store.ResolveOutcome, uuid.UUID, error) {
	if f.failResolve {
		return store.OutcomeAlreadyLinked, uuid.Nil, errors.New("simulated resolve failure")
	}
	key := params.UserID.String() + ":" + params.DedupKey
	if existing, ok := f.cashbackByKey[key]; ok {
		if existing.BankTransactionID != nil {
			return store.OutcomeAlreadyLinked, existing.ID, nil
		}
		link := params.BankTransactionID
		confirmed := params.ConfirmedAt
		existing.BankTransactionID = &link
		existing.ConfirmedAt = &confirmed
		existing.MatchScore = params.MatchScore
		return store.OutcomeLinked, existing.ID, nil
	}
	link := params.BankTransactionID
	confirmed := params.ConfirmedAt
	created := &domain.CashbackTransaction{
		ID:                uuid.New(),
		UserID:            params.UserID,
		MerchantID:        params.MerchantID,
		Amount:            params.Amount,
		DedupKey:          params.DedupKey,
		BankTransactionID: &link,
		ConfirmedAt:       &confirmed,
		MatchScore:        params.MatchScore,
		Status:            domain.TransactionStatusPending,
	}
	f.cashbackByKey[key] = created
	return store.OutcomeCreated, created.ID, nil
}

// fakeProvider serves canned feeds per external account id.
type fakeProvider struct {
	feeds     map[string][]bankclient.BankTransaction
	fetchErrs map[string]error
	accounts  []string
}

func (p *fakeProvider) CreateConnectionLink(ctx context.Context, userID, redirectURL string) (*bankclient.ConnectionLink, error) {
	return &bankclient.ConnectionLink{RequisitionID: "req-" + userID, Link: "https://bank.example/auth/" + userID}, nil
}

func (p *fakeProvider) CompleteConnection(ctx context.Context, requisitionID string) ([]string, error) {
	return p.accounts, nil
}

func (p *fakeProvider) FetchBookedTransactions(ctx context.Context, externalAccountID string) ([]bankclient.BankTransaction, error) {
	if err, ok := p.fetchErrs[externalAccountID]; ok {
		return nil, err
	}
	return p.feeds[externalAccountID], nil
}

// fakePublisher records every published event.
type fakePublisher struct {
	linked    []domain.TransactionLinkedEvent
	completed []domain.SyncCompletedEvent
}

func (p *fakePublisher) PublishTransactionLinked(ctx context.Context, event domain.TransactionLinkedEvent) error {
	p.linked = append(p.linked, event)
	return nil
}

func (p *fakePublisher) PublishSyncCompleted(ctx context.Context, event domain.SyncCompletedEvent) error {
	p.completed = append(p.completed, event)
	return nil
}

func (p *fakePublisher) Close() {}

func seedConnection(repo *fakeRepo, userID uuid.UUID, externalAccountID string) domain.BankConnection {
	conn := domain.BankConnection{
		ID:            uuid.New(),
		UserID:        userID,
		Provider:      "mock",
		RequisitionID: "req-" + externalAccountID,
		Status:        domain.ConnectionStatusActive,
	}
	repo.connections = append(repo.connections, conn)
	repo.accounts[conn.ID] = []domain.BankAccount{{
		ID:                uuid.New(),
		ConnectionID:      conn.ID,
		UserID:            userID,
		ExternalAccountID: externalAccountID,
		Status:            "active",
	}}
	return conn
}

func seedBoulangerie(repo *fakeRepo) uuid.UUID {
	merchantID := uuid.New()
	repo.merchants = append(repo.merchants, domain.Merchant{ID: merchantID, Name: "Boulangerie Dupont", IsActive: true})
	repo.profiles = append(repo.profiles, domain.MerchantMatchProfile{
		MerchantID: merchantID,
		Keywords:   []string{"boulangerie", "dupont"},
		CityTokens: []string{"bayonne"},
	})
	return merchantID
}

func newTestService(repo *fakeRepo, provider bankclient.Provider, publisher *fakePublisher) *Service {
	return NewService(repo, provider, "mock", publisher, "EUR", 5*time.Second)
}

func TestRunSync_EndToEndCreatesPendingTransaction(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	seedConnection(repo, userID, "acct-1")
	merchantID := seedBoulangerie(repo)

	provider := &fakeProvider{feeds: map[string][]bankclient.BankTransaction{
		"acct-1": {{
			ExternalTxID:  "ext-tx-1",
			BookedAt:      "2025-03-14T09:26:53Z",
			Amount:        "12.5",
			Currency:      "EUR",
			RawDescriptor: "BOULANGERIE DUPONT BAYONNE CB",
		}},
	}}
	publisher := &fakePublisher{}
	service := newTestService(repo, provider, publisher)

	result, err := service.RunSync(context.Background())
	if err != nil {
		t.Fatalf("RunSync returned error: %v", err)
	}
	if result.InsertedBankTx != 1 || result.LinkedTx != 1 {
		t.Fatalf("expected counts {1,1}, got {%d,%d}", result.InsertedBankTx, result.LinkedTx)
	}
	if len(result.Failures) != 0 {
		t.Fatalf("expected no failures, got %v", result.Failures)
	}

	raw, ok := repo.rawByExternalID["ext-tx-1"]
	if !ok {
		t.Fatal("expected the raw bank transaction to be persisted")
	}
	if raw.Amount != 12.5 || raw.Currency != "EUR" {
		t.Fatalf("unexpected raw transaction: %+v", raw)
	}

	if len(repo.cashbackByKey) != 1 {
		t.Fatalf("expected exactly one cashback transaction, got %d", len(repo.cashbackByKey))
	}
	for _, tx := range repo.cashbackByKey {
		if tx.Status != domain.TransactionStatusPending {
			t.Fatalf("expected status pending, got %q", tx.Status)
		}
		if tx.MerchantID != merchantID {
			t.Fatalf("expected merchant %s, got %s", merchantID, tx.MerchantID)
		}
		if tx.Amount != 12.5 {
			t.Fatalf("expected amount 12.5, got %f", tx.Amount)
		}
		if tx.MatchScore != 5 {
			t.Fatalf("expected match score 5, got %d", tx.MatchScore)
		}
		if tx.BankTransactionID == nil || *tx.BankTransactionID != raw.ID {
			t.Fatal("expected the cashback transaction to link the raw bank transaction")
		}
		if tx.ConfirmedAt == nil {
			t.Fatal("expected a confirmation timestamp")
		}
	}

	if len(publisher.linked) != 1 {
		t.Fatalf("expected one linked event, got %d", len(publisher.linked))
	}
	if !publisher.linked[0].Created {
		t.Fatal("expected the linked event to mark a creation")
	}
	if len(publisher.completed) != 1 {
		t.Fatalf("expected one completed event, got %d", len(publisher.completed))
	}
}

func TestRunSync_SecondRunConvergesWithoutDuplicates(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	seedConnection(repo, userID, "acct-1")
	seedBoulangerie(repo)

	provider := &fakeProvider{feeds: map[string][]bankclient.BankTransaction{
		"acct-1": {{
			ExternalTxID:  "ext-tx-1",
			BookedAt:      "2025-03-14T09:26:53Z",
			Amount:        "12.50",
			Currency:      "EUR",
			RawDescriptor: "BOULANGERIE DUPONT BAYONNE CB",
		}},
	}}
	service := newTestService(repo, provider, &fakePublisher{})

	if _, err := service.RunSync(context.Background()); err != nil {
		t.Fatalf("first RunSync returned error: %v", err)
	}
	second, err := service.RunSync(context.Background())
	if err != nil {
		t.Fatalf("second RunSync returned error: %v", err)
	}

	if len(repo.rawByExternalID) != 1 {
		t.Fatalf("expected one raw bank transaction after re-run, got %d", len(repo.rawByExternalID))
	}
	if len(repo.cashbackByKey) != 1 {
		t.Fatalf("expected one cashback transaction after re-run, got %d", len(repo.cashbackByKey))
	}

	// The raw upsert still counts on re-runs (the counter names every
	// upsert an insert), but nothing new is linked.
	if second.InsertedBankTx != 1 {
		t.Fatalf("expected inserted_bank_tx=1 on re-run, got %d", second.InsertedBankTx)
	}
	if second.LinkedTx != 0 {
		t.Fatalf("expected linked_tx=0 on re-run, got %d", second.LinkedTx)
	}
}

func TestRunSync_AmountFormattingDoesNotSplitPurchases(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	seedConnection(repo, userID, "acct-1")
	seedBoulangerie(repo)

	// Same purchase reported twice with different amount formatting and a
	// few minutes of posting lag inside one dedup bucket.
	provider := &fakeProvider{feeds: map[string][]bankclient.BankTransaction{
		"acct-1": {
			{ExternalTxID: "ext-a", BookedAt: "2025-03-14T09:20:10Z", Amount: "12.5", RawDescriptor: "BOULANGERIE DUPONT BAYONNE CB"},
			{ExternalTxID: "ext-b", BookedAt: "2025-03-14T09:24:40Z", Amount: "12.50", RawDescriptor: "BOULANGERIE DUPONT BAYONNE CB"},
		},
	}}
	service := newTestService(repo, provider, &fakePublisher{})

	result, err := service.RunSync(context.Background())
	if err != nil {
		t.Fatalf("RunSync returned error: %v", err)
	}
	if len(repo.rawByExternalID) != 2 {
		t.Fatalf("expected both raw transactions persisted, got %d", len(repo.rawByExternalID))
	}
	if len(repo.cashbackByKey) != 1 {
		t.Fatalf("expected one cashback transaction for one purchase, got %d", len(repo.cashbackByKey))
	}
	// First resolve creates, second finds the row already linked.
	if result.LinkedTx != 1 {
		t.Fatalf("expected linked_tx=1, got %d", result.LinkedTx)
	}
}

func TestRunSync_SkipsInvalidTransactionsWithoutAborting(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	seedConnection(repo, userID, "acct-1")
	seedBoulangerie(repo)

	provider := &fakeProvider{feeds: map[string][]bankclient.BankTransaction{
		"acct-1": {
			{ExternalTxID: "", BookedAt: "2025-03-14T09:00:00Z", Amount: "3.00", RawDescriptor: "NO ID"},
			{ExternalTxID: "ext-nan", BookedAt: "2025-03-14T09:01:00Z", Amount: "NaN", RawDescriptor: "BAD AMOUNT"},
			{ExternalTxID: "ext-word", BookedAt: "2025-03-14T09:02:00Z", Amount: "twelve", RawDescriptor: "BAD AMOUNT"},
			{ExternalTxID: "ext-ok", BookedAt: "2025-03-14T09:03:00Z", Amount: "-12.50", RawDescriptor: "BOULANGERIE DUPONT BAYONNE CB"},
		},
	}}
	service := newTestService(repo, provider, &fakePublisher{})

	result, err := service.RunSync(context.Background())
	if err != nil {
		t.Fatalf("RunSync returned error: %v", err)
	}

	if len(repo.rawByExternalID) != 1 {
		t.Fatalf("expected only the valid transaction persisted, got %d", len(repo.rawByExternalID))
	}
	if _, ok := repo.rawByExternalID["ext-ok"]; !ok {
		t.Fatal("expected the valid transaction to survive the skips")
	}
	if result.InsertedBankTx != 1 || result.LinkedTx != 1 {
		t.Fatalf("expected counts {1,1}, got {%d,%d}", result.InsertedBankTx, result.LinkedTx)
	}
}

func TestRunSync_UnmatchedDescriptorLeavesRawUnlinked(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	seedConnection(repo, userID, "acct-1")
	seedBoulangerie(repo)

	provider := &fakeProvider{feeds: map[string][]bankclient.BankTransaction{
		"acct-1": {{
			ExternalTxID:  "ext-tx-1",
			BookedAt:      "2025-03-14T09:26:53Z",
			Amount:        "7.20",
			RawDescriptor: "SUPERMARCHE CENTRAL PARIS",
		}},
	}}
	publisher := &fakePublisher{}
	service := newTestService(repo, provider, publisher)

	result, err := service.RunSync(context.Background())
	if err != nil {
		t.Fatalf("RunSync returned error: %v", err)
	}
	if result.InsertedBankTx != 1 {
		t.Fatalf("expected the raw transaction to be persisted, got inserted_bank_tx=%d", result.InsertedBankTx)
	}
	if result.LinkedTx != 0 {
		t.Fatalf("expected no link for an unmatched descriptor, got linked_tx=%d", result.LinkedTx)
	}
	if len(repo.cashbackByKey) != 0 {
		t.Fatalf("expected no cashback transaction, got %d", len(repo.cashbackByKey))
	}
	if len(publisher.linked) != 0 {
		t.Fatalf("expected no linked events, got %d", len(publisher.linked))
	}
}

func TestRunSync_LinksExistingPendingTransaction(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	seedConnection(repo, userID, "acct-1")
	merchantID := seedBoulangerie(repo)

	// A scan event already created the pending transaction, without a bank
	// link. The booked time below falls in the same dedup bucket.
	bookedAt := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)
	pending := &domain.CashbackTransaction{
		ID:         uuid.New(),
		UserID:     userID,
		MerchantID: merchantID,
		Amount:     12.5,
		Status:     domain.TransactionStatusPending,
	}
	// Mirror the orchestrator's key derivation so the fake store finds it.
	pending.DedupKey = match.ComputeDedupKey(userID, merchantID, 12.5, bookedAt)
	repo.cashbackByKey[userID.String()+":"+pending.DedupKey] = pending

	provider := &fakeProvider{feeds: map[string][]bankclient.BankTransaction{
		"acct-1": {{
			ExternalTxID:  "ext-tx-1",
			BookedAt:      "2025-03-14T09:26:53Z",
			Amount:        "12.50",
			RawDescriptor: "BOULANGERIE DUPONT BAYONNE CB",
		}},
	}}
	publisher := &fakePublisher{}
	service := newTestService(repo, provider, publisher)

	result, err := service.RunSync(context.Background())
	if err != nil {
		t.Fatalf("RunSync returned error: %v", err)
	}
	if result.LinkedTx != 1 {
		t.Fatalf("expected linked_tx=1, got %d", result.LinkedTx)
	}
	if pending.BankTransactionID == nil {
		t.Fatal("expected the pending transaction to gain its bank link")
	}
	if pending.MatchScore != 5 {
		t.Fatalf("expected match score 5 recorded on link, got %d", pending.MatchScore)
	}
	if len(publisher.linked) != 1 || publisher.linked[0].Created {
		t.Fatalf("expected one linked (not created) event, got %+v", publisher.linked)
	}
}

func TestRunSync_ProviderFailureIsIsolatedPerConnection(t *testing.T) {
	repo := newFakeRepo()
	brokenUser := uuid.New()
	healthyUser := uuid.New()
	broken := seedConnection(repo, brokenUser, "acct-broken")
	seedConnection(repo, healthyUser, "acct-ok")
	seedBoulangerie(repo)

	provider := &fakeProvider{
		feeds: map[string][]bankclient.BankTransaction{
			"acct-ok": {{
				ExternalTxID:  "ext-ok",
				BookedAt:      "2025-03-14T09:26:53Z",
				Amount:        "12.50",
				RawDescriptor: "BOULANGERIE DUPONT BAYONNE CB",
			}},
		},
		fetchErrs: map[string]error{
			"acct-broken": fmt.Errorf("provider returned 502"),
		},
	}
	service := newTestService(repo, provider, &fakePublisher{})

	result, err := service.RunSync(context.Background())
	if err != nil {
		t.Fatalf("RunSync must not abort on a provider failure: %v", err)
	}
	if len(result.Failures) != 1 {
		t.Fatalf("expected one recorded failure, got %d", len(result.Failures))
	}
	if result.Failures[0].ConnectionID != broken.ID {
		t.Fatalf("expected the broken connection recorded, got %s", result.Failures[0].ConnectionID)
	}
	if result.InsertedBankTx != 1 || result.LinkedTx != 1 {
		t.Fatalf("expected the healthy connection to sync, got {%d,%d}", result.InsertedBankTx, result.LinkedTx)
	}
}

func TestRunSync_PersistenceFailureAbortsRun(t *testing.T) {
	repo := newFakeRepo()
	userID := uuid.New()
	seedConnection(repo, userID, "acct-1")
	seedBoulangerie(repo)
	repo.failRawUpsert = true

	provider := &fakeProvider{feeds: map[string][]bankclient.BankTransaction{
		"acct-1": {{
			ExternalTxID:  "ext-tx-1",
			BookedAt:      "2025-03-14T09:26:53Z",
			Amount:        "12.50",
			RawDescriptor: "BOULANGERIE DUPONT BAYONNE CB",
		}},
	}}
	service := newTestService(repo, provider, &fakePublisher{})

	if _, err := service.RunSync(context.Background()); err == nil {
		t.Fatal("expected a persistence failure to abort the run")
	}
}

func TestRunSync_NoActiveConnectionsIsNotAnError(t *testing.T) {
	repo := newFakeRepo()
	service := newTestService(repo, &fakeProvider{}, &fakePublisher{})

	result, err := service.RunSync(context.Background())
	if err != nil {
		t.Fatalf("RunSync returned error: %v", err)
	}
	if result.InsertedBankTx != 0 || result.LinkedTx != 0 || len(result.Failures) != 0 {
		t.Fatalf("expected a zero result, got %+v", result)
	}
}

func TestCreateConnection_PersistsCreatedConnection(t *testing.T) {
	repo := newFakeRepo()
	service := newTestService(repo, &fakeProvider{}, &fakePublisher{})
	userID := uuid.New()

	resp, err := service.CreateConnection(context.Background(), userID, "https://pawpass.example/return")
	if err != nil {
		t.Fatalf("CreateConnection returned error: %v", err)
	}
	if resp.Link == "" {
		t.Fatal("expected a provider link")
	}
	if resp.Connection.Status != domain.ConnectionStatusCreated {
		t.Fatalf("expected status created, got %q", resp.Connection.Status)
	}
	if len(repo.connections) != 1 {
		t.Fatalf("expected one persisted connection, got %d", len(repo.connections))
	}
	if repo.connections[0].RequisitionID == "" {
		t.Fatal("expected the requisition id to be persisted")
	}
}

func TestCompleteConnection_IsIdempotent(t *testing.T) {
	repo := newFakeRepo()
	provider := &fakeProvider{accounts: []string{"ext-acct-1", "ext-acct-2"}}
	service := newTestService(repo, provider, &fakePublisher{})
	userID := uuid.New()

	created, err := service.CreateConnection(context.Background(), userID, "https://pawpass.example/return")
	if err != nil {
		t.Fatalf("CreateConnection returned error: %v", err)
	}

	first, err := service.CompleteConnection(context.Background(), userID, created.Connection.ID)
	if err != nil {
		t.Fatalf("CompleteConnection returned error: %v", err)
	}
	if first.Connection.Status != domain.ConnectionStatusActive {
		t.Fatalf("expected status active, got %q", first.Connection.Status)
	}
	if len(first.Accounts) != 2 {
		t.Fatalf("expected two accounts, got %d", len(first.Accounts))
	}

	second, err := service.CompleteConnection(context.Background(), userID, created.Connection.ID)
	if err != nil {
		t.Fatalf("repeated CompleteConnection returned error: %v", err)
	}
	if len(second.Accounts) != 2 {
		t.Fatalf("expected the same two accounts on repeat, got %d", len(second.Accounts))
	}
	if len(repo.accounts[created.Connection.ID]) != 2 {
		t.Fatalf("expected two bank account rows after repeat, got %d", len(repo.accounts[created.Connection.ID]))
	}
}

type stubRateLimiter struct {
	count      int
	retryAfter int
	err        error
}

func (s *stubRateLimiter) ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (int, int, error) {
	return s.count, s.retryAfter, s.err
}

func TestCreateConnection_RateLimited(t *testing.T) {
	repo := newFakeRepo()
	service := newTestService(repo, &fakeProvider{}, &fakePublisher{})
	service.SetConnectionRateLimiter(&stubRateLimiter{count: 6, retryAfter: 42}, 5)

	_, err := service.CreateConnection(context.Background(), uuid.New(), "https://pawpass.example/return")
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if rateErr.RetryAfterSeconds != 42 {
		t.Fatalf("expected retry-after 42, got %d", rateErr.RetryAfterSeconds)
	}
	if len(repo.connections) != 0 {
		t.Fatal("a rate-limited request must have no side effects")
	}
}

func TestCreateConnection_LimiterOutageFailsOpen(t *testing.T) {
	repo := newFakeRepo()
	service := newTestService(repo, &fakeProvider{}, &fakePublisher{})
	service.SetConnectionRateLimiter(&stubRateLimiter{err: errors.New("redis down")}, 5)

	if _, err := service.CreateConnection(context.Background(), uuid.New(), "https://pawpass.example/return"); err != nil {
		t.Fatalf("limiter outage must not block the request: %v", err)
	}
}
