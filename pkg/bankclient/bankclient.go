/**
 * @description
 * This package abstracts the external bank-aggregation provider behind a
 * narrow capability interface: starting an authorization flow, resolving a
 * completed flow into account ids, and fetching booked transactions. The
 * sync engine only ever talks to this interface; the concrete backend is
 * chosen by name at startup.
 *
 * @dependencies
 * - context, fmt, strings: Standard Go libraries.
 */
package bankclient

import (
	"context"
	"fmt"
	"strings"
)

// Provider names accepted by NewProvider.
const (
	ProviderMock       = "mock"
	ProviderGoCardless = "gocardless"
)

// ConnectionLink is the result of starting an external bank-authorization
// flow: an opaque requisition id and the URL the end user must visit.
type ConnectionLink struct {
	RequisitionID string `json:"requisition_id"`
	Link          string `json:"link"`
}

// BankTransaction is one booked transaction as the provider reports it.
// Amount and BookedAt are kept as the provider's raw strings; the caller
// owns parsing and decides what to do with values that do not parse.
type BankTransaction struct {
	ExternalTxID  string `json:"external_tx_id"`
	BookedAt      string `json:"booked_at"` // ISO timestamp or date
	Amount        string `json:"amount"`    // signed decimal string
	Currency      string `json:"currency"`  // may be empty
	RawDescriptor string `json:"raw_descriptor"`
}

// Provider is the capability interface every bank aggregator backend
// implements.
type Provider interface {
	// CreateConnectionLink begins an authorization flow for the user and
	// returns the requisition id plus the link the user must visit. A
	// provider failure is returned as an error, never as an empty link.
	CreateConnectionLink(ctx context.Context, userID, redirectURL string) (*ConnectionLink, error)

	// CompleteConnection resolves a returned-from requisition into the list
	// of discovered external account ids. Idempotent: repeating the call for
	// an already-completed requisition returns the same accounts.
	CompleteConnection(ctx context.Context, requisitionID string) ([]string, error)

	// FetchBookedTransactions returns every transaction the provider
	// currently reports as settled for the account. Implementations exhaust
	// provider-side pagination before returning.
	FetchBookedTransactions(ctx context.Context, externalAccountID string) ([]BankTransaction, error)
}

// Config carries the provider selection and the credentials the concrete
// client needs.
type Config struct {
	Name          string
	BaseURL       string
	APIToken      string
	InstitutionID string
}

// NewProvider resolves the configured provider name to a concrete client.
// An unrecognized name is a configuration error: the caller is expected to
// treat it as fatal at startup.
func NewProvider(cfg Config) (Provider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Name)) {
	case ProviderMock:
		return NewMockProvider(), nil
	case ProviderGoCardless:
		if strings.TrimSpace(cfg.BaseURL) == "" || strings.TrimSpace(cfg.APIToken) == "" {
			return nil, fmt.Errorf("gocardless provider requires a base URL and API token")
		}
		return NewGoCardlessClient(cfg.BaseURL, cfg.APIToken, cfg.InstitutionID), nil
	default:
		return nil, fmt.Errorf("unsupported bank provider %q", cfg.Name)
	}
}
