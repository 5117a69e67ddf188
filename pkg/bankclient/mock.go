/**
 * @description
 * In-memory bank provider used for local development and tests. Connection
 * links resolve instantly, every completed requisition discovers one fixed
 * account, and the booked feed is a small deterministic set of transactions
 * so repeated syncs exercise the idempotent paths.
 */
package bankclient

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MockProvider simulates the external aggregator without any network calls.
type MockProvider struct {
	mu           sync.Mutex
	requisitions map[string][]string // requisition id -> account ids
}

// NewMockProvider creates a mock provider with no open requisitions.
func NewMockProvider() *MockProvider {
	return &MockProvider{requisitions: make(map[string][]string)}
}

// CreateConnectionLink opens a simulated requisition for the user.
func (m *MockProvider) CreateConnectionLink(ctx context.Context, userID, redirectURL string) (*ConnectionLink, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	requisitionID := "mock-req-" + uuid.NewString()
	m.requisitions[requisitionID] = []string{"mock-account-" + userID}

	return &ConnectionLink{
		RequisitionID: requisitionID,
		Link:          fmt.Sprintf("https://bank.example/authorize/%s?redirect=%s", requisitionID, redirectURL),
	}, nil
}

// CompleteConnection returns the accounts behind a simulated requisition.
// Unknown requisition ids still resolve to one account, mirroring a provider
// that completed the flow out of band.
func (m *MockProvider) CompleteConnection(ctx context.Context, requisitionID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if accounts, ok := m.requisitions[requisitionID]; ok {
		return accounts, nil
	}
	accounts := []string{"mock-account-" + requisitionID}
	m.requisitions[requisitionID] = accounts
	return accounts, nil
}

// FetchBookedTransactions returns the same feed on every call, keyed off the
// account id so external transaction ids stay unique per account.
func (m *MockProvider) FetchBookedTransactions(ctx context.Context, externalAccountID string) ([]BankTransaction, error) {
	return []BankTransaction{
		{
			ExternalTxID:  externalAccountID + "-tx-1",
			BookedAt:      "2025-03-14T09:26:53Z",
			Amount:        "-12.50",
			Currency:      "EUR",
			RawDescriptor: "BOULANGERIE DUPONT BAYONNE CB",
		},
		{
			ExternalTxID:  externalAccountID + "-tx-2",
			BookedAt:      "2025-03-14T12:41:02Z",
			Amount:        "-8.90",
			Currency:      "EUR",
			RawDescriptor: "Café de la Gare ORLEANS",
		},
		{
			ExternalTxID:  externalAccountID + "-tx-3",
			BookedAt:      "2025-03-15T18:03:11Z",
			Amount:        "-42.00",
			Currency:      "EUR",
			RawDescriptor: "SUPERMARCHE CENTRAL PARIS",
		},
	}, nil
}
