/**
 * @description
 * This file contains the HTTP handlers for the billing-service's API endpoints.
 * Handlers are responsible for parsing incoming requests, calling the appropriate
 * methods on the application service, and writing the HTTP response. They act as the
 * bridge between the web layer and the business logic layer.
 *
 * @dependencies
 * - encoding/json, log, net/http: Standard Go libraries.
 * - internal/app, internal/domain, internal/store: For service logic, models, and custom errors.
 */

package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/lumina/billing-service/internal/app"
	"github.com/lumina/billing-service/internal/domain"
	"github.com/lumina/billing-service/internal/store"
)

// BillingHandlers holds the application service that handlers will use.
type BillingHandlers struct {
	service *app.Service
}

// NewBillingHandlers creates a new instance of BillingHandlers.
func NewBillingHandlers(service *app.Service) *BillingHandlers {
	return &BillingHandlers{service: service}
}

type balanceResponse struct {
	PermanentCredits    int64 `json:"permanent_credits"`
	SubscriptionCredits int64 `json:"subscription_credits"`
	TotalCredits        int64 `json:"total_credits"`
}

type generationRequest struct {
	Prompt       string `json:"prompt"`
	NumImages    int    `json:"num_images,omitempty"`
	AspectRatio  string `json:"aspect_ratio,omitempty"`
	OutputFormat string `json:"output_format,omitempty"`
}

type generationResponse struct {
	Images       []domain.GeneratedImage `json:"images"`
	CreditsSpent int64                   `json:"credits_spent"`
	Balance      balanceResponse         `json:"balance"`
}

// authenticatedAccountID resolves the caller's account id from the request
// context, writing the error response itself on failure.
func (h *BillingHandlers) authenticatedAccountID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	accountIDStr, ok := GetAccountID(r.Context())
	if !ok {
		h.writeError(w, http.StatusUnauthorized, "Could not identify account from token")
		return uuid.Nil, false
	}
	accountID, err := uuid.Parse(accountIDStr)
	if err != nil {
		h.writeError(w, http.StatusUnauthorized, "Invalid account ID in token")
		return uuid.Nil, false
	}
	return accountID, true
}

// BalanceHandler returns the caller's current credit totals.
func (h *BillingHandlers) BalanceHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticatedAccountID(w, r)
	if !ok {
		return
	}

	balance, err := h.service.GetBalance(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, store.ErrAccountNotFound) {
			h.writeError(w, http.StatusNotFound, "Account not found")
			return
		}
		log.Printf("level=error component=api endpoint=balance msg=\"balance lookup failed\" account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch balance")
		return
	}

	h.writeJSON(w, http.StatusOK, balanceResponse{
		PermanentCredits:    balance.PermanentCredits,
		SubscriptionCredits: balance.SubscriptionCredits,
		TotalCredits:        balance.Total(),
	})
}

// HistoryHandler returns the caller's ledger entries, newest first.
// Supports ?limit= and ?offset= query parameters.
func (h *BillingHandlers) HistoryHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticatedAccountID(w, r)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	entries, err := h.service.GetLedgerHistory(r.Context(), accountID, limit, offset)
	if err != nil {
		log.Printf("level=error component=api endpoint=history msg=\"ledger history lookup failed\" account_id=%s err=%v", accountID, err)
		h.writeError(w, http.StatusInternalServerError, "Unable to fetch ledger history")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"limit":   limit,
		"offset":  offset,
	})
}

// GenerateHandler handles paid image generation requests.
func (h *BillingHandlers) GenerateHandler(w http.ResponseWriter, r *http.Request) {
	accountID, ok := h.authenticatedAccountID(w, r)
	if !ok {
		return
	}

	var req generationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	spend, err := h.service.GenerateImage(r.Context(), accountID, domain.GenerationRequest{
		Prompt:       req.Prompt,
		NumImages:    req.NumImages,
		AspectRatio:  req.AspectRatio,
		OutputFormat: req.OutputFormat,
	})
	if err != nil {
		switch {
		case errors.Is(err, app.ErrPromptRequired), errors.Is(err, app.ErrInvalidAspectRatio):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, store.ErrInsufficientCredits):
			h.writeError(w, http.StatusPaymentRequired, "Insufficient credits")
		case errors.Is(err, store.ErrAccountNotFound):
			h.writeError(w, http.StatusNotFound, "Account not found")
		case errors.Is(err, app.ErrRateLimited):
			h.writeError(w, http.StatusTooManyRequests, "Too many generation requests, slow down")
		default:
			log.Printf("level=error component=api endpoint=generate msg=\"generation failed\" account_id=%s err=%v", accountID, err)
			h.writeError(w, http.StatusBadGateway, "Image generation failed")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, generationResponse{
		Images:       spend.Result.Images,
		CreditsSpent: spend.CreditsSpent,
		Balance: balanceResponse{
			PermanentCredits:    spend.NewBalance.PermanentCredits,
			SubscriptionCredits: spend.NewBalance.SubscriptionCredits,
			TotalCredits:        spend.NewBalance.Total(),
		},
	})
}

// writeJSON is a helper for writing JSON responses.
func (h *BillingHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *BillingHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
