/**
 * @description
 * This file contains the HTTP handlers for the banksync-service's API
 * endpoints. Handlers parse incoming requests, call the application service
 * and write the HTTP response. They act as the bridge between the web layer
 * and the business logic layer.
 *
 * @dependencies
 * - encoding/json, errors, log, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: URL parameter extraction.
 * - internal/app, internal/store: Service logic and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pawpass/banksync-service/internal/app"
	"github.com/pawpass/banksync-service/internal/domain"
	"github.com/pawpass/banksync-service/internal/store"
)

// BankSyncHandlers holds the application service that handlers will use.
type BankSyncHandlers struct {
	service *app.Service
}

// NewBankSyncHandlers creates a new instance of BankSyncHandlers.
func NewBankSyncHandlers(service *app.Service) *BankSyncHandlers {
	return &BankSyncHandlers{service: service}
}

type createConnectionRequest struct {
	RedirectURL string `json:"redirect_url"`
}

type syncResponse struct {
	OK             bool                 `json:"ok"`
	InsertedBankTx int                  `json:"inserted_bank_tx"`
	LinkedTx       int                  `json:"linked_tx"`
	Failures       []domain.SyncFailure `json:"failures"`
}

// CreateConnectionHandler starts a bank-authorization flow for the
// authenticated user and returns the link the user must visit.
func (h *BankSyncHandlers) CreateConnectionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	var req createConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.RedirectURL == "" {
		h.writeError(w, http.StatusBadRequest, "redirect_url is required")
		return
	}

	resp, err := h.service.CreateConnection(r.Context(), userID, req.RedirectURL)
	if err != nil {
		var rateErr *app.RateLimitedError
		if errors.As(err, &rateErr) {
			w.Header().Set("Retry-After", strconv.Itoa(rateErr.RetryAfterSeconds))
			h.writeError(w, http.StatusTooManyRequests, "Too many connection attempts. Please try again later.")
			return
		}
		log.Printf("level=error component=api endpoint=create_connection user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusBadGateway, "Could not start bank connection")
		return
	}

	log.Printf("level=info component=api endpoint=create_connection outcome=created user_id=%s connection_id=%s", userID, resp.Connection.ID)
	h.writeJSON(w, http.StatusCreated, resp)
}

// CompleteConnectionHandler finishes an authorization flow: discovers the
// accounts behind the requisition and activates the connection.
func (h *BankSyncHandlers) CompleteConnectionHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	connectionID, err := uuid.Parse(chi.URLParam(r, "connectionID"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid connection ID")
		return
	}

	resp, err := h.service.CompleteConnection(r.Context(), userID, connectionID)
	if err != nil {
		if errors.Is(err, store.ErrConnectionNotFound) {
			h.writeError(w, http.StatusNotFound, "Bank connection not found")
			return
		}
		log.Printf("level=error component=api endpoint=complete_connection user_id=%s connection_id=%s err=%v", userID, connectionID, err)
		h.writeError(w, http.StatusBadGateway, "Could not complete bank connection")
		return
	}

	log.Printf("level=info component=api endpoint=complete_connection outcome=active user_id=%s connection_id=%s accounts=%d", userID, connectionID, len(resp.Accounts))
	h.writeJSON(w, http.StatusOK, resp)
}

// ListConnectionsHandler returns the authenticated user's bank connections.
func (h *BankSyncHandlers) ListConnectionsHandler(w http.ResponseWriter, r *http.Request) {
	userID, ok := GetAuthUserID(r.Context())
	if !ok {
		h.writeError(w, http.StatusInternalServerError, "Could not get user ID from context")
		return
	}

	connections, err := h.service.ListConnections(r.Context(), userID)
	if err != nil {
		log.Printf("level=error component=api endpoint=list_connections user_id=%s err=%v", userID, err)
		h.writeError(w, http.StatusInternalServerError, "Could not list bank connections")
		return
	}
	if connections == nil {
		connections = []domain.BankConnection{}
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{"connections": connections})
}

// SyncHandler runs a full sync across all active connections. Internal use
// only; the router guards it with the internal API key middleware.
func (h *BankSyncHandlers) SyncHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.RunSync(r.Context())
	if err != nil {
		log.Printf("level=error component=api endpoint=sync outcome=aborted err=%v", err)
		h.writeError(w, http.StatusInternalServerError, "Sync run aborted: "+err.Error())
		return
	}

	log.Printf("level=info component=api endpoint=sync outcome=ok inserted_bank_tx=%d linked_tx=%d failures=%d", result.InsertedBankTx, result.LinkedTx, len(result.Failures))
	failures := result.Failures
	if failures == nil {
		failures = []domain.SyncFailure{}
	}
	h.writeJSON(w, http.StatusOK, syncResponse{
		OK:             true,
		InsertedBankTx: result.InsertedBankTx,
		LinkedTx:       result.LinkedTx,
		Failures:       failures,
	})
}

// writeJSON is a helper for writing JSON responses.
func (h *BankSyncHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BankSyncHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
