/**
 * @description
 * GoCardless Bank Account Data client. Implements the Provider interface on
 * top of the requisitions and account-transactions endpoints, handling
 * authenticated request construction, response parsing and error surfacing.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, io, log, net/http, time: Standard Go libraries.
 */
package bankclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// GoCardlessClient is a client for the GoCardless Bank Account Data API.
type GoCardlessClient struct {
	BaseURL       string
	APIToken      string
	InstitutionID string
	HTTPClient    *http.Client
}

// NewGoCardlessClient creates a new GoCardless API client.
func NewGoCardlessClient(baseURL, apiToken, institutionID string) *GoCardlessClient {
	return &GoCardlessClient{
		BaseURL:       strings.TrimRight(baseURL, "/"),
		APIToken:      apiToken,
		InstitutionID: institutionID,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// requisitionRequest is the payload for creating a requisition.
type requisitionRequest struct {
	Redirect      string `json:"redirect"`
	InstitutionID string `json:"institution_id"`
	Reference     string `json:"reference"`
}

// requisitionResponse is the shape GoCardless returns for a requisition,
// both on creation and on lookup.
type requisitionResponse struct {
	ID       string   `json:"id"`
	Status   string   `json:"status"`
	Link     string   `json:"link"`
	Accounts []string `json:"accounts"`
}

// transactionsResponse wraps the booked/pending split of the account
// transactions endpoint.
type transactionsResponse struct {
	Transactions struct {
		Booked  []gcTransaction `json:"booked"`
		Pending []gcTransaction `json:"pending"`
	} `json:"transactions"`
}

type gcTransaction struct {
	TransactionID     string `json:"transactionId"`
	BookingDate       string `json:"bookingDate"`
	BookingDateTime   string `json:"bookingDateTime"`
	TransactionAmount struct {
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	} `json:"transactionAmount"`
	RemittanceInformation string `json:"remittanceInformationUnstructured"`
	CreditorName          string `json:"creditorName"`
}

// ErrorResponse represents an error returned by the GoCardless API.
type ErrorResponse struct {
	Summary    string `json:"summary"`
	Detail     string `json:"detail"`
	StatusCode int    `json:"status_code"`
}

func (e *ErrorResponse) Error() string {
	if e.Summary != "" || e.Detail != "" {
		return fmt.Sprintf("gocardless api error: %s - %s", e.Summary, e.Detail)
	}
	return fmt.Sprintf("gocardless api error (status %d)", e.StatusCode)
}

// CreateConnectionLink creates a requisition and returns its id and the
// authorization link the user must visit.
func (c *GoCardlessClient) CreateConnectionLink(ctx context.Context, userID, redirectURL string) (*ConnectionLink, error) {
	payload := requisitionRequest{
		Redirect:      redirectURL,
		InstitutionID: c.InstitutionID,
		Reference:     userID,
	}

	var resp requisitionResponse
	if err := c.doRequest(ctx, http.MethodPost, "/api/v2/requisitions/", payload, &resp); err != nil {
		return nil, err
	}
	if resp.ID == "" || resp.Link == "" {
		return nil, fmt.Errorf("gocardless returned an incomplete requisition (id=%q)", resp.ID)
	}

	return &ConnectionLink{RequisitionID: resp.ID, Link: resp.Link}, nil
}

// CompleteConnection looks up a requisition and returns the discovered
// account ids. GoCardless keeps returning the same account list for a
// completed requisition, which gives us the idempotency the caller relies on.
func (c *GoCardlessClient) CompleteConnection(ctx context.Context, requisitionID string) ([]string, error) {
	var resp requisitionResponse
	path := "/api/v2/requisitions/" + requisitionID + "/"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Accounts, nil
}

// FetchBookedTransactions returns the booked (settled) transactions for an
// account. The endpoint is unpaginated; pending transactions are dropped.
func (c *GoCardlessClient) FetchBookedTransactions(ctx context.Context, externalAccountID string) ([]BankTransaction, error) {
	var resp transactionsResponse
	path := "/api/v2/accounts/" + externalAccountID + "/transactions/"
	if err := c.doRequest(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	transactions := make([]BankTransaction, 0, len(resp.Transactions.Booked))
	for _, tx := range resp.Transactions.Booked {
		bookedAt := tx.BookingDateTime
		if bookedAt == "" {
			bookedAt = tx.BookingDate
		}
		descriptor := tx.RemittanceInformation
		if descriptor == "" {
			descriptor = tx.CreditorName
		}
		transactions = append(transactions, BankTransaction{
			ExternalTxID:  tx.TransactionID,
			BookedAt:      bookedAt,
			Amount:        tx.TransactionAmount.Amount,
			Currency:      tx.TransactionAmount.Currency,
			RawDescriptor: descriptor,
		})
	}

	return transactions, nil
}

// doRequest builds, executes and decodes one authenticated API call.
func (c *GoCardlessClient) doRequest(ctx context.Context, method, path string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		jsonBody, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(bodyBytes, &errResp); err != nil {
			log.Printf("level=warn component=gocardless_client method=%s path=%s status=%d msg=\"non-2xx response (unparsable error body)\"", method, path, resp.StatusCode)
			return fmt.Errorf("gocardless request failed (status %d)", resp.StatusCode)
		}
		log.Printf("level=warn component=gocardless_client method=%s path=%s status=%d summary=%q detail=%q", method, path, resp.StatusCode, errResp.Summary, errResp.Detail)
		return &errResp
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}

	return nil
}
