package handler

import (
	"net/http"

	"github.com/barbosaigor/investrack/internal/pricing"
)

// PriceHandler triggers the price-refresh pipeline on demand.
type PriceHandler struct {
	refresher *pricing.Refresher
}

// NewPriceHandler creates a new price handler
func NewPriceHandler(refresher *pricing.Refresher) *PriceHandler {
	return &PriceHandler{refresher: refresher}
}

// RefreshPrices handles POST /prices/refresh. Buckets that fail keep
// their previous price, so a partial refresh still returns 200.
func (h *PriceHandler) RefreshPrices(w http.ResponseWriter, r *http.Request) {
	updated, err := h.refresher.Refresh(r.Context())
	if err != nil {
		respondAppError(w, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]int{"updated": updated})
}
