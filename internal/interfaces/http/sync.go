// Package http exposes the sync engine over a small JSON API.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"firesync/internal/domain/credential"
	"firesync/internal/domain/ledger"
	syncengine "firesync/internal/domain/sync"
	"firesync/internal/infrastructure/aggregator"
)

// SyncHandler serves connection and sync endpoints.
type SyncHandler struct {
	orchestrator *syncengine.Orchestrator
	credentials  *credential.Store
	connections  ledger.ConnectionStore
	accounts     ledger.AccountStore
	runs         ledger.RunStore
	client       aggregator.ClientInterface

	// runDeadline bounds how long a trigger request waits for the run before
	// answering 202 and letting it finish in the background.
	runDeadline time.Duration
}

// NewSyncHandler creates the handler.
func NewSyncHandler(
	orchestrator *syncengine.Orchestrator,
	credentials *credential.Store,
	connections ledger.ConnectionStore,
	accounts ledger.AccountStore,
	runs ledger.RunStore,
	client aggregator.ClientInterface,
	runDeadline time.Duration,
) *SyncHandler {
	if runDeadline <= 0 {
		runDeadline = 25 * time.Second
	}
	return &SyncHandler{
		orchestrator: orchestrator,
		credentials:  credentials,
		connections:  connections,
		accounts:     accounts,
		runs:         runs,
		client:       client,
		runDeadline:  runDeadline,
	}
}

type CreateConnectionRequest struct {
	UserID          int64             `json:"userId"`
	ConnectorID     string            `json:"connectorId"`
	ExternalUserRef string            `json:"externalUserRef"`
	Fields          map[string]string `json:"fields"`
}

// HandleCreateConnection authorizes a new bank link with the aggregator and
// registers it locally with its credential encrypted at rest.
func (h *SyncHandler) HandleCreateConnection(w http.ResponseWriter, r *http.Request) {
	var req CreateConnectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == 0 || req.ConnectorID == "" || req.ExternalUserRef == "" {
		http.Error(w, "userId, connectorId and externalUserRef are required", http.StatusBadRequest)
		return
	}

	cred, err := h.client.Authenticate(r.Context(), req.ExternalUserRef)
	if err != nil {
		log.Printf("User %d: aggregator authentication failed: %v", req.UserID, err)
		http.Error(w, "Aggregator authentication failed", http.StatusBadGateway)
		return
	}
	cred.ExternalUserRef = req.ExternalUserRef

	apiConn, err := h.client.CreateConnection(r.Context(), *cred, req.ConnectorID, req.Fields)
	if err != nil {
		log.Printf("User %d: failed to create aggregator connection: %v", req.UserID, err)
		http.Error(w, "Failed to create connection with aggregator", http.StatusBadGateway)
		return
	}

	encrypted, err := h.credentials.Encode(cred)
	if err != nil {
		http.Error(w, "Failed to store credential", http.StatusInternalServerError)
		return
	}

	conn, err := h.connections.Create(r.Context(), ledger.CreateConnectionParams{
		UserID:              req.UserID,
		ExternalID:          apiConn.ID,
		ConnectorID:         req.ConnectorID,
		ExternalUserRef:     req.ExternalUserRef,
		EncryptedCredential: encrypted,
		CredentialExpiresAt: cred.ExpiresAt,
	})
	if err != nil {
		http.Error(w, "Failed to register connection", http.StatusInternalServerError)
		return
	}

	log.Printf("User %d: connection %d registered (connector %s)", req.UserID, conn.ID, req.ConnectorID)
	writeJSON(w, http.StatusCreated, conn)
}

// HandleGetConnection returns one connection.
func (h *SyncHandler) HandleGetConnection(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}

	conn, err := h.connections.GetByID(r.Context(), id)
	if errors.Is(err, ledger.ErrConnectionNotFound) {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get connection", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, conn)
}

// HandleListAccounts returns the accounts synced through one connection.
func (h *SyncHandler) HandleListAccounts(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}

	accounts, err := h.accounts.ListByConnection(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to list accounts", http.StatusInternalServerError)
		return
	}
	if accounts == nil {
		accounts = []*ledger.Account{}
	}
	writeJSON(w, http.StatusOK, accounts)
}

type TriggerSyncRequest struct {
	FullHistory  bool `json:"fullHistory"`
	ForceRefresh bool `json:"forceRefresh"`
}

type triggerResult struct {
	report *syncengine.Report
	err    error
}

// HandleTriggerSync starts a sync run. When the run finishes inside the
// request deadline the full report comes back with 200; otherwise the run
// keeps going in the background and the caller gets 202.
func (h *SyncHandler) HandleTriggerSync(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}

	opts := syncengine.DefaultOptions()
	if r.Body != nil && r.ContentLength != 0 {
		var req TriggerSyncRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		opts.FullHistory = req.FullHistory
		opts.ForceRefresh = req.ForceRefresh
	}

	// The run must survive the HTTP request: once started it finishes and
	// finalizes regardless of whether the caller is still waiting.
	runCtx := context.WithoutCancel(r.Context())
	results := make(chan triggerResult, 1)
	go func() {
		report, err := h.orchestrator.Run(runCtx, id, opts)
		results <- triggerResult{report: report, err: err}
	}()

	select {
	case res := <-results:
		if res.err != nil {
			if errors.Is(res.err, syncengine.ErrSyncInProgress) {
				http.Error(w, "Sync already in progress", http.StatusConflict)
				return
			}
			if errors.Is(res.err, ledger.ErrConnectionNotFound) {
				http.Error(w, "Connection not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusBadGateway, map[string]any{
				"error":  res.err.Error(),
				"report": res.report,
			})
			return
		}
		writeJSON(w, http.StatusOK, res.report)

	case <-time.After(h.runDeadline):
		log.Printf("Connection %d: sync still running after %v, answering 202", id, h.runDeadline)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "running"})
	}
}

// HandleSyncStatus returns the connection's sync state and its latest run.
func (h *SyncHandler) HandleSyncStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := connectionID(w, r)
	if !ok {
		return
	}

	conn, err := h.connections.GetByID(r.Context(), id)
	if errors.Is(err, ledger.ErrConnectionNotFound) {
		http.Error(w, "Connection not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to get connection", http.StatusInternalServerError)
		return
	}

	latest, err := h.runs.Latest(r.Context(), id)
	if err != nil {
		http.Error(w, "Failed to get latest run", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"connectionId":   conn.ID,
		"status":         conn.Status,
		"syncEnabled":    conn.SyncEnabled,
		"lastSyncedAt":   conn.LastSyncedAt,
		"lastSuccessAt":  conn.LastSuccessAt,
		"lastSyncStatus": conn.LastSyncStatus,
		"lastSyncError":  conn.LastSyncError,
		"latestRun":      latest,
	})
}

type SetPrimaryRequest struct {
	UserID int64 `json:"userId"`
}

// HandleSetPrimary marks an account as the user's primary one.
func (h *SyncHandler) HandleSetPrimary(w http.ResponseWriter, r *http.Request) {
	accountID, err := strconv.ParseInt(chi.URLParam(r, "accountID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid account id", http.StatusBadRequest)
		return
	}

	var req SetPrimaryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == 0 {
		http.Error(w, "userId is required", http.StatusBadRequest)
		return
	}

	err = h.accounts.SetPrimary(r.Context(), req.UserID, accountID)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		http.Error(w, "Account not found", http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, "Failed to set primary account", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func connectionID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "connectionID"), 10, 64)
	if err != nil {
		http.Error(w, "Invalid connection id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}
