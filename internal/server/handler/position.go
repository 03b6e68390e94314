package handler

import (
	"context"
	"net/http"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// PositionSource is the read side of the position book.
type PositionSource interface {
	Snapshot() []domain.Position
}

// PriceSource supplies mark prices for unrealized PnL.
type PriceSource interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, bool)
}

// PositionHandler serves the open position table.
type PositionHandler struct {
	positions PositionSource
	prices    PriceSource
}

// NewPositionHandler creates a PositionHandler. prices may be nil.
func NewPositionHandler(positions PositionSource, prices PriceSource) *PositionHandler {
	return &PositionHandler{positions: positions, prices: prices}
}

type positionView struct {
	domain.Position
	MarkPrice     *float64 `json:"mark_price,omitempty"`
	UnrealizedPnL *float64 `json:"unrealized_pnl,omitempty"`
}

type listPositionsResponse struct {
	Positions []positionView `json:"positions"`
}

// ListPositions returns every open position with its mark price when known.
// GET /api/positions
func (h *PositionHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	snap := h.positions.Snapshot()
	out := make([]positionView, 0, len(snap))
	for _, p := range snap {
		v := positionView{Position: p}
		if h.prices != nil {
			if px, ok := h.prices.CurrentPrice(r.Context(), p.Symbol); ok {
				pnl := p.UnrealizedPnL(px)
				v.MarkPrice = &px
				v.UnrealizedPnL = &pnl
			}
		}
		out = append(out, v)
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: out})
}
