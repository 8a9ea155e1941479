package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/barbosaigor/investrack/internal/command"
	"github.com/barbosaigor/investrack/internal/domain"
	"github.com/barbosaigor/investrack/internal/handlers"
	"github.com/barbosaigor/investrack/internal/transport/httpapi/middleware"
	"github.com/barbosaigor/investrack/pkg/money"
)

// IncomeHandler handles the passive income endpoints.
type IncomeHandler struct {
	assets     AssetReader
	dispatcher *handlers.Dispatcher
}

// NewIncomeHandler creates a new income handler
func NewIncomeHandler(assets AssetReader, dispatcher *handlers.Dispatcher) *IncomeHandler {
	return &IncomeHandler{assets: assets, dispatcher: dispatcher}
}

// IncomeRequest carries an income create or update. The asset id lives
// in the body because incomes are addressed by their own id.
type IncomeRequest struct {
	AssetID             string  `json:"asset_id"`
	Kind                string  `json:"kind"`
	Amount              string  `json:"amount"`
	EventDate           string  `json:"event_date"`
	PaymentForecastDate *string `json:"payment_forecast_date,omitempty"`
	CreditedAt          *string `json:"credited_at,omitempty"`
}

func (req *IncomeRequest) toInput(currency money.Currency) (domain.IncomeInput, error) {
	amount, err := money.NewFromString(req.Amount, currency)
	if err != nil {
		return domain.IncomeInput{}, err
	}
	eventDate, err := time.Parse(time.RFC3339, req.EventDate)
	if err != nil {
		return domain.IncomeInput{}, err
	}
	input := domain.IncomeInput{
		Kind:      domain.IncomeKind(strings.ToUpper(req.Kind)),
		Amount:    amount,
		EventDate: eventDate,
	}
	if req.PaymentForecastDate != nil {
		forecast, err := time.Parse(time.RFC3339, *req.PaymentForecastDate)
		if err != nil {
			return domain.IncomeInput{}, err
		}
		input.PaymentForecastDate = &forecast
	}
	if req.CreditedAt != nil {
		credited, err := time.Parse(time.RFC3339, *req.CreditedAt)
		if err != nil {
			return domain.IncomeInput{}, err
		}
		input.CreditedAt = &credited
	}
	return input, nil
}

// ownedAssetFromBody resolves the body's asset_id to an asset owned by
// the caller, writing the error response itself on failure.
func (h *IncomeHandler) ownedAssetFromBody(w http.ResponseWriter, r *http.Request, rawAssetID string) (*domain.Asset, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return nil, false
	}
	assetID, err := uuid.Parse(rawAssetID)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid asset ID")
		return nil, false
	}
	a, err := h.assets.Get(r.Context(), assetID)
	if err != nil || a.UserID != userID {
		respondWithError(w, http.StatusNotFound, "asset not found")
		return nil, false
	}
	return a, true
}

// CreateIncome handles POST /incomes
func (h *IncomeHandler) CreateIncome(w http.ResponseWriter, r *http.Request) {
	var req IncomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, ok := h.ownedAssetFromBody(w, r, req.AssetID)
	if !ok {
		return
	}
	input, err := req.toInput(a.Currency)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := command.CreateIncome{
		UserID:  a.UserID,
		AssetID: a.ID,
		Input:   input,
	}
	if err := h.dispatcher.Execute(r.Context(), cmd, &a.ID); err != nil {
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// UpdateIncome handles PATCH /incomes/{id}
func (h *IncomeHandler) UpdateIncome(w http.ResponseWriter, r *http.Request) {
	incomeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid income ID")
		return
	}
	var req IncomeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, ok := h.ownedAssetFromBody(w, r, req.AssetID)
	if !ok {
		return
	}
	input, err := req.toInput(a.Currency)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, err.Error())
		return
	}

	cmd := command.UpdateIncome{
		UserID:   a.UserID,
		AssetID:  a.ID,
		IncomeID: incomeID,
		Input:    input,
	}
	if err := h.dispatcher.Execute(r.Context(), cmd, &a.ID); err != nil {
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// DeleteIncome handles DELETE /incomes/{id}
func (h *IncomeHandler) DeleteIncome(w http.ResponseWriter, r *http.Request) {
	incomeID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid income ID")
		return
	}
	var req struct {
		AssetID string `json:"asset_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	a, ok := h.ownedAssetFromBody(w, r, req.AssetID)
	if !ok {
		return
	}

	cmd := command.DeleteIncome{
		UserID:   a.UserID,
		AssetID:  a.ID,
		IncomeID: incomeID,
	}
	if err := h.dispatcher.Execute(r.Context(), cmd, &a.ID); err != nil {
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
