package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
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

// AssetReader loads full aggregates for read-side endpoints.
type AssetReader interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Asset, error)
}

// AssetHandler handles the asset surface: projection listing, explicit
// creation, operation periods and portfolio indicators.
type AssetHandler struct {
	readModels domain.ReadModelRepository
	assets     AssetReader
	snapshots  domain.SnapshotRepository
	dispatcher *handlers.Dispatcher
}

// NewAssetHandler creates a new asset handler
func NewAssetHandler(readModels domain.ReadModelRepository, assets AssetReader, snapshots domain.SnapshotRepository, dispatcher *handlers.Dispatcher) *AssetHandler {
	return &AssetHandler{
		readModels: readModels,
		assets:     assets,
		snapshots:  snapshots,
		dispatcher: dispatcher,
	}
}

// AssetResponse is one projection row in the API response.
type AssetResponse struct {
	ID              string `json:"id"`
	Code            string `json:"code"`
	Type            string `json:"type"`
	Currency        string `json:"currency"`
	Objective       string `json:"objective"`
	Quantity        string `json:"quantity"`
	TotalInvested   string `json:"total_invested"`
	AvgPrice        string `json:"avg_price"`
	CurrentTotal    string `json:"current_total"`
	ClosedROI       string `json:"closed_roi"`
	CreditedIncomes string `json:"credited_incomes"`
	UpdatedAt       string `json:"updated_at"`
}

// AssetListResponse is a paginated list of projection rows.
type AssetListResponse struct {
	Assets   []AssetResponse `json:"assets"`
	Page     int             `json:"page"`
	PageSize int             `json:"page_size"`
}

func toAssetResponse(row *domain.AssetReadModel) AssetResponse {
	return AssetResponse{
		ID:              row.AssetID.String(),
		Code:            row.Code,
		Type:            string(row.Type),
		Currency:        string(row.Currency),
		Objective:       string(row.Objective),
		Quantity:        row.Quantity.String(),
		TotalInvested:   row.NormalizedTotalInvested.StringFixed(2),
		AvgPrice:        row.NormalizedAvgPrice.StringFixed(4),
		CurrentTotal:    row.NormalizedCurrentTotal.StringFixed(2),
		ClosedROI:       row.NormalizedClosedROI.StringFixed(2),
		CreditedIncomes: row.NormalizedCreditedIncomes.StringFixed(2),
		UpdatedAt:       row.UpdatedAt.Format(time.RFC3339),
	}
}

// parsePagination reads page/size query parameters with the standard
// bounds (size capped at 100).
func parsePagination(r *http.Request) (page, size int) {
	page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	size, _ = strconv.Atoi(r.URL.Query().Get("size"))
	if size < 1 || size > 100 {
		size = 20
	}
	return page, size
}

// ListAssets handles GET /assets
func (h *AssetHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	page, size := parsePagination(r)
	rows, err := h.readModels.List(r.Context(), userID, page, size)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to list assets")
		return
	}

	resp := AssetListResponse{Assets: make([]AssetResponse, len(rows)), Page: page, PageSize: size}
	for i, row := range rows {
		resp.Assets[i] = toAssetResponse(row)
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// CreateAssetRequest is the explicit asset creation request.
type CreateAssetRequest struct {
	Code              string `json:"code"`
	Type              string `json:"type"`
	Currency          string `json:"currency"`
	Objective         string `json:"objective,omitempty"`
	HeldInSelfCustody bool   `json:"held_in_self_custody,omitempty"`
}

// CreateAsset handles POST /assets
func (h *AssetHandler) CreateAsset(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req CreateAssetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	typ, err := domain.ParseAssetType(req.Type)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid asset type")
		return
	}
	currency, err := money.ParseCurrency(req.Currency)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid currency")
		return
	}
	objective := domain.ObjectiveUnknown
	if req.Objective != "" {
		objective = domain.Objective(req.Objective)
	}

	cmd := command.CreateAsset{
		UserID:            userID,
		Key:               domain.AssetKey{Code: req.Code, Type: typ, Currency: currency},
		Objective:         objective,
		HeldInSelfCustody: req.HeldInSelfCustody,
	}
	if err := h.dispatcher.Execute(r.Context(), cmd, nil); err != nil {
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, map[string]string{"status": "created"})
}

// OperationPeriodResponse is one open or closed trading window.
type OperationPeriodResponse struct {
	StartedAt string  `json:"started_at"`
	ClosedAt  *string `json:"closed_at,omitempty"`
	ROI       *string `json:"roi,omitempty"`
}

// GetOperationPeriods handles GET /assets/{id}/operation_periods
func (h *AssetHandler) GetOperationPeriods(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	assetID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid asset ID")
		return
	}

	a, err := h.assets.Get(r.Context(), assetID)
	if err != nil {
		// 404 for both missing and foreign assets to avoid id probing.
		respondWithError(w, http.StatusNotFound, "asset not found")
		return
	}
	if a.UserID != userID {
		respondWithError(w, http.StatusNotFound, "asset not found")
		return
	}

	periods := a.OperationPeriods()
	resp := make([]OperationPeriodResponse, len(periods))
	for i, p := range periods {
		item := OperationPeriodResponse{StartedAt: p.StartedAt.Format(time.RFC3339)}
		if p.ClosedAt != nil {
			closed := p.ClosedAt.Format(time.RFC3339)
			item.ClosedAt = &closed
		}
		if p.ROI != nil {
			roi := p.ROI.Amount.StringFixed(2)
			item.ROI = &roi
		}
		resp[i] = item
	}
	respondWithJSON(w, http.StatusOK, resp)
}

// IndicatorsResponse aggregates the user's portfolio totals plus the
// patrimony snapshot history.
type IndicatorsResponse struct {
	TotalInvested   string             `json:"total_invested"`
	CurrentTotal    string             `json:"current_total"`
	ClosedROI       string             `json:"closed_roi"`
	ROIPercent      string             `json:"roi_percent"`
	CreditedIncomes string             `json:"credited_incomes"`
	ByType          map[string]string  `json:"by_type"`
	Patrimony       []SnapshotResponse `json:"patrimony"`
}

// SnapshotResponse is one dated patrimony point.
type SnapshotResponse struct {
	Date  string `json:"date"`
	Total string `json:"total"`
}

// GetIndicators handles GET /assets/indicators
func (h *AssetHandler) GetIndicators(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	totalInvested := decimal.Zero
	currentTotal := decimal.Zero
	closedROI := decimal.Zero
	creditedIncomes := decimal.Zero
	byType := make(map[string]decimal.Decimal)

	const pageSize = 100
	for page := 1; ; page++ {
		rows, err := h.readModels.List(r.Context(), userID, page, pageSize)
		if err != nil {
			respondWithError(w, http.StatusInternalServerError, "failed to aggregate indicators")
			return
		}
		for _, row := range rows {
			totalInvested = totalInvested.Add(row.NormalizedTotalInvested)
			currentTotal = currentTotal.Add(row.NormalizedCurrentTotal)
			closedROI = closedROI.Add(row.NormalizedClosedROI)
			creditedIncomes = creditedIncomes.Add(row.NormalizedCreditedIncomes)
			byType[row.Type.String()] = byType[row.Type.String()].Add(row.NormalizedCurrentTotal)
		}
		if len(rows) < pageSize {
			break
		}
	}

	snaps, err := h.snapshots.List(r.Context(), userID)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to load patrimony history")
		return
	}

	roiPercent := decimal.Zero
	if totalInvested.IsPositive() {
		roiPercent = closedROI.Div(totalInvested).Mul(decimal.NewFromInt(100))
	}

	resp := IndicatorsResponse{
		TotalInvested:   totalInvested.StringFixed(2),
		CurrentTotal:    currentTotal.StringFixed(2),
		ClosedROI:       closedROI.StringFixed(2),
		ROIPercent:      roiPercent.StringFixed(2),
		CreditedIncomes: creditedIncomes.StringFixed(2),
		ByType:          make(map[string]string, len(byType)),
		Patrimony:       make([]SnapshotResponse, len(snaps)),
	}
	for typ, total := range byType {
		resp.ByType[typ] = total.StringFixed(2)
	}
	for i, s := range snaps {
		resp.Patrimony[i] = SnapshotResponse{
			Date:  s.OperationDate.Format("2006-01-02"),
			Total: s.Total.StringFixed(2),
		}
	}
	respondWithJSON(w, http.StatusOK, resp)
}
