package binance

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Order types used by the adapter.
const (
	OrderTypeMarket           = "MARKET"
	OrderTypeStopMarket       = "STOP_MARKET"
	OrderTypeTakeProfitMarket = "TAKE_PROFIT_MARKET"
)

// OrderParams describes a USD-M futures order. Empty fields are omitted from
// the request.
type OrderParams struct {
	Symbol           string
	Side             string // BUY or SELL
	Type             string
	Quantity         string
	PositionSide     string // LONG or SHORT in hedge mode, empty otherwise
	StopPrice        string
	ReduceOnly       bool
	ClosePosition    bool
	NewClientOrderID string
}

// Values encodes p as request parameters.
func (p OrderParams) Values() url.Values {
	v := url.Values{}
	v.Set("symbol", p.Symbol)
	v.Set("side", p.Side)
	v.Set("type", p.Type)
	if p.Quantity != "" {
		v.Set("quantity", p.Quantity)
	}
	if p.PositionSide != "" {
		v.Set("positionSide", p.PositionSide)
	}
	if p.StopPrice != "" {
		v.Set("stopPrice", p.StopPrice)
	}
	if p.ReduceOnly {
		v.Set("reduceOnly", "true")
	}
	if p.ClosePosition {
		v.Set("closePosition", "true")
	}
	if p.NewClientOrderID != "" {
		v.Set("newClientOrderId", p.NewClientOrderID)
	}
	return v
}

// Order is the order object returned by /fapi/v1/order and openOrders. Code
// and Msg are set when the venue embeds an error in a 200 response.
type Order struct {
	OrderID       int64          `json:"orderId"`
	ID            string         `json:"id,omitempty"`
	ClientOrderID string         `json:"clientOrderId"`
	Symbol        string         `json:"symbol"`
	Status        string         `json:"status"`
	Type          string         `json:"type"`
	Side          string         `json:"side"`
	PositionSide  string         `json:"positionSide"`
	AvgPrice      string         `json:"avgPrice"`
	ExecutedQty   string         `json:"executedQty"`
	OrigQty       string         `json:"origQty"`
	StopPrice     string         `json:"stopPrice"`
	ReduceOnly    bool           `json:"reduceOnly"`
	ClosePosition bool           `json:"closePosition"`
	Info          map[string]any `json:"info,omitempty"`
	Code          int            `json:"code,omitempty"`
	Msg           string         `json:"msg,omitempty"`
}

// FillPrice returns the average fill price, 0 when unknown.
func (o Order) FillPrice() float64 { return parseFloat(o.AvgPrice) }

// FilledQty returns the executed quantity.
func (o Order) FilledQty() float64 { return parseFloat(o.ExecutedQty) }

// IsProtective reports whether o is a stop or take-profit market order.
func (o Order) IsProtective() bool {
	return o.Type == OrderTypeStopMarket || o.Type == OrderTypeTakeProfitMarket
}

// PositionRisk is one row of /fapi/v2/positionRisk.
type PositionRisk struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	PositionSide     string `json:"positionSide"`
}

// Amount returns the signed position amount.
func (p PositionRisk) Amount() float64 { return parseFloat(p.PositionAmt) }

// APIError is the {"code":..,"msg":..} body Binance returns on failure.
type APIError struct {
	HTTPStatus int    `json:"-"`
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance: %d %s", e.Code, e.Msg)
}

// IsReduceOnlyRejected reports the -1106 "reduceonly sent when not required"
// rejection hedge-mode accounts return for reduce-only orders.
func (e *APIError) IsReduceOnlyRejected() bool {
	return e.Code == -1106 && strings.Contains(strings.ToLower(e.Msg), "reduceonly")
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
