package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/handlers"
	"github.com/barbosaigor/investrack/internal/transport/httpapi/middleware"
	"github.com/barbosaigor/investrack/pkg/money"
)

// TransactionHandler handles the transaction endpoints under an asset.
type TransactionHandler struct {
	assets     AssetReader
	dispatcher *handlers.Dispatcher
}

// NewTransactionHandler creates a new transaction handler
func NewTransactionHandler(assets AssetReader, dispatcher *handlers.Dispatcher) *TransactionHandler {
	return &TransactionHandler{assets: assets, dispatcher: dispatcher}
}

// TransactionRequest carries a transaction create or update.
type TransactionRequest struct {
	Action        string  `json:"action"`
	Quantity      string  `json:"quantity"`
	Price         string  `json:"price"`
	OperationDate string  `json:"operation_date"`
	ExternalID    *string `json:"external_id,omitempty"`
}

func (req *TransactionRequest) toInput(currency money.Currency) (domain.TransactionInput, error) {
	action, err := domain.ParseAction(req.Action)
	if err != nil {
		return domain.TransactionInput{}, err
	}
	quantity, err := decimal.NewFromString(req.Quantity)
	if err != nil {
		return domain.TransactionInput{}, err
	}
	price, err := money.NewFromString(req.Price, currency)
	if err != nil {
		return domain.TransactionInput{}, err
	}
	operationDate, err := time.Parse(time.RFC3339, req.OperationDate)
	if err != nil {
		return domain.TransactionInput{}, err
	}
	return domain.TransactionInput{
		Action:        action,
		Quantity:      quantity,
		Price:         price,
		OperationDate: operationDate,
		ExternalID:    req.ExternalID,
	}, nil
}

// loadOwnedAsset resolves the {id} parameter to an asset owned by the
// caller, writing the error response itself on failure.
func loadOwnedAsset(w http.ResponseWriter, r *http.Request, assets AssetReader) (*domain.Asset, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	assetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid asset ID")
		return nil, false
	}
	a, err := assets.Get(r.Context(), assetID)
	if err != nil || a.UserID != userID {
		respondWithError(w, http.StatusNotFound, "asset not found")
		return nil, false
	}
	return a, true
}

// CreateTransaction handles POST /assets/{id}/transactions
func (h *TransactionHandler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	a, ok := loadOwnedAsset(w, r, h.assets)
	if !ok {
		return
	}

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input, err := req.toInput(a.Currency)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := &command.CreateTransaction{
		UserID: a.UserID,
		Key:    domain.AssetKey{Code: a.Code, Type: a.Type, Currency: a.Currency},
		Input:  input,
	}
	if err := h.dispatcher.Execute(r.Context(), cmd, &a.ID); err != nil {
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{
		"status":   "created",
		"asset_id": cmd.AssetID.String(),
	})
}

// UpdateTransaction handles PATCH /assets/{id}/transactions/{tid}
func (h *TransactionHandler) UpdateTransaction(w http.ResponseWriter, r *http.Request) {
	a, ok := loadOwnedAsset(w, r, h.assets)
	if !ok {
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "tid"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid transaction ID")
		return
	}

	var req TransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	input, err := req.toInput(a.Currency)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := command.UpdateTransaction{
		UserID:        a.UserID,
		AssetID:       a.ID,
		TransactionID: txID,
		Input:         input,
	}
	if err := h.dispatcher.Execute(r.Context(), cmd, &a.ID); err != nil {
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteTransaction handles DELETE /assets/{id}/transactions/{tid}
func (h *TransactionHandler) DeleteTransaction(w http.ResponseWriter, r *http.Request) {
	a, ok := loadOwnedAsset(w, r, h.assets)
	if !ok {
		return
	}
	txID, err := uuid.Parse(chi.URLParam(r, "tid"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid transaction ID")
		return
	}

	cmd := command.DeleteTransaction{
		UserID:        a.UserID,
		AssetID:       a.ID,
		TransactionID: txID,
	}
	if err := h.dispatcher.Execute(r.Context(), cmd, &a.ID); err != nil {
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
