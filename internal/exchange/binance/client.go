// Package binance adapts Binance USD-M futures to the exchange.Client
// contract.
package binance

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
)

const (
	entryNotAccepted = "Binance futures entry order was not accepted; see raw payload for details."
	closeNotAccepted = "Binance futures close order was not accepted; see raw payload for details."
)

var failedStatuses = map[string]struct{}{
	"rejected":  {},
	"expired":   {},
	"canceled":  {},
	"cancelled": {},
	"error":     {},
}

// Handle is the Binance futures API surface the adapter needs.
type Handle interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	CreateOrder(ctx context.Context, params OrderParams) (Order, error)
	OpenOrders(ctx context.Context, symbol string) ([]Order, error)
	CancelOrder(ctx context.Context, symbol string, orderID int64) error
	PositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error)
}

// Options configure symbol mapping and quantity precision.
type Options struct {
	QuoteAsset              string // appended to the base coin, default USDT
	HedgeMode               bool
	DefaultQuantityDecimals int32
	QuantityDecimals        map[string]int32 // keyed by base coin
}

// Client implements exchange.Client and exchange.TriggerManager.
type Client struct {
	handle Handle
	opts   Options
	logger *slog.Logger
}

// New creates a Binance futures adapter.
func New(handle Handle, opts Options, logger *slog.Logger) *Client {
	if opts.QuoteAsset == "" {
		opts.QuoteAsset = "USDT"
	}
	if opts.DefaultQuantityDecimals <= 0 {
		opts.DefaultQuantityDecimals = 3
	}
	return &Client{
		handle: handle,
		opts:   opts,
		logger: logger.With(slog.String("component", "binance")),
	}
}

// VenueSymbol maps any accepted symbol spelling onto the exchange symbol.
func (c *Client) VenueSymbol(symbol string) string {
	return strings.ToUpper(domain.BaseSymbol(symbol)) + c.opts.QuoteAsset
}

// PlaceEntry sets leverage, submits a market order and then attaches
// close-position stop and take-profit orders.
func (c *Client) PlaceEntry(ctx context.Context, req exchange.EntryRequest) domain.EntryResult {
	symbol := c.VenueSymbol(req.Symbol)
	coin := domain.BaseSymbol(req.Symbol)
	res := domain.EntryResult{Backend: domain.BackendBinanceFutures, Extra: map[string]any{
		"symbol": symbol,
		"side":   orderSide(req.Side.IsBuy()),
	}}
	var errs exchange.ErrorList

	qty := c.quantity(coin, req.Size)
	if qty <= 0 {
		errs.Add("entry: size must be positive")
		res.Errors = errs.Items()
		return res
	}

	if req.Leverage > 0 {
		lev := int(math.Max(1, math.Floor(req.Leverage)))
		if err := c.handle.SetLeverage(ctx, symbol, lev); err != nil {
			c.logger.WarnContext(ctx, "set leverage failed, continuing with account leverage",
				slog.String("symbol", symbol),
				slog.Int("leverage", lev),
				slog.String("error", err.Error()),
			)
			res.Extra["leverage_warning"] = err.Error()
		}
	}

	order, err := c.handle.CreateOrder(ctx, OrderParams{
		Symbol:           symbol,
		Side:             orderSide(req.Side.IsBuy()),
		Type:             OrderTypeMarket,
		Quantity:         exchange.FormatFixed(qty, c.decimals(coin)),
		PositionSide:     c.positionSide(req.Side),
		NewClientOrderID: clientOrderID(),
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "live entry failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		res.Raw = map[string]any{"status": "error", "exception": err.Error()}
		errs.AddErr("entry", err)
		res.Errors = errs.Items()
		return res
	}
	res.Raw = order
	res.Extra["order"] = order

	collectErrors(order, "entry", &errs)
	res.Success = errs.Len() == 0 && !statusFailed(order.Status)
	res.EntryOID = extractOrderID(order)
	if px := order.FillPrice(); px > 0 {
		res.Extra["fill_price"] = px
		res.Extra["filled_size"] = order.FilledQty()
	}

	if res.Success {
		if req.StopLossPrice != nil && *req.StopLossPrice > 0 {
			res.SLOID = c.placeProtective(ctx, symbol, req.Side, OrderTypeStopMarket, *req.StopLossPrice, "stop_loss", &errs)
		}
		if req.TakeProfitPrice != nil && *req.TakeProfitPrice > 0 {
			res.TPOID = c.placeProtective(ctx, symbol, req.Side, OrderTypeTakeProfitMarket, *req.TakeProfitPrice, "take_profit", &errs)
		}
	}

	if !res.Success && errs.Len() == 0 {
		errs.Add(entryNotAccepted)
	}
	res.Errors = errs.Items()
	return res
}

// ClosePosition submits a reduce-only market order on the closing side. When
// the account rejects reduceOnly (hedge mode) the order is retried once
// without it.
func (c *Client) ClosePosition(ctx context.Context, req exchange.CloseRequest) domain.CloseResult {
	symbol := c.VenueSymbol(req.Symbol)
	coin := domain.BaseSymbol(req.Symbol)
	res := domain.CloseResult{Backend: domain.BackendBinanceFutures, Extra: map[string]any{"symbol": symbol}}
	if req.FallbackPrice != nil {
		res.Extra["fallback_price"] = *req.FallbackPrice
	}
	var errs exchange.ErrorList

	// The live size caps an explicit amount so a position already closed by
	// a native trigger reconciles instead of being rejected every iteration.
	live, err := c.liveAmount(ctx, symbol, req.Side)
	amount := live
	switch {
	case err != nil && req.Size == nil:
		errs.AddErr("close: fetch position", err)
		res.Errors = errs.Items()
		return res
	case err != nil:
		c.logger.WarnContext(ctx, "position risk unavailable, closing requested size",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		amount = *req.Size
	case req.Size != nil:
		amount = math.Min(*req.Size, live)
	}
	amount = c.quantity(coin, amount)
	if amount <= 0 {
		res.Success = true
		res.Errors = []string{}
		res.Extra["reason"] = "no position size to close"
		return res
	}

	params := OrderParams{
		Symbol:       symbol,
		Side:         orderSide(!req.Side.IsBuy()),
		Type:         OrderTypeMarket,
		Quantity:     exchange.FormatFixed(amount, c.decimals(coin)),
		PositionSide: c.positionSide(req.Side),
		ReduceOnly:   true,
	}
	order, err := c.handle.CreateOrder(ctx, params)
	var apiErr *APIError
	if err != nil && errors.As(err, &apiErr) && apiErr.IsReduceOnlyRejected() {
		c.logger.WarnContext(ctx, "close rejected reduceOnly, retrying without it",
			slog.String("symbol", symbol),
		)
		params.ReduceOnly = false
		order, err = c.handle.CreateOrder(ctx, params)
	}
	if err != nil {
		c.logger.ErrorContext(ctx, "live close failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		res.Raw = map[string]any{"status": "error", "exception": err.Error()}
		errs.AddErr("close", err)
		res.Errors = errs.Items()
		return res
	}
	res.Raw = order
	res.Extra["order"] = order
	res.Extra["close_size"] = amount

	collectErrors(order, "close", &errs)
	res.Success = errs.Len() == 0 && !statusFailed(order.Status)
	res.CloseOID = extractOrderID(order)
	if px := order.FillPrice(); px > 0 {
		res.Extra["fill_price"] = px
		res.Extra["filled_size"] = order.FilledQty()
	}

	if !res.Success && errs.Len() == 0 {
		errs.Add(closeNotAccepted)
	}
	res.Errors = errs.Items()
	return res
}

// UpdateTriggers cancels the stop and take-profit orders resting for the
// position and places the requested replacements.
func (c *Client) UpdateTriggers(ctx context.Context, upd exchange.TriggerUpdate) exchange.TriggerResult {
	symbol := c.VenueSymbol(upd.Symbol)
	var errs exchange.ErrorList
	out := exchange.TriggerResult{}

	wantSL := upd.StopLossPrice != nil && *upd.StopLossPrice > 0
	wantTP := upd.TakeProfitPrice != nil && *upd.TakeProfitPrice > 0
	if !wantSL && !wantTP {
		out.Success = true
		out.Errors = []string{}
		return out
	}

	orders, err := c.handle.OpenOrders(ctx, symbol)
	if err != nil {
		// Replacement orders may still succeed.
		c.logger.WarnContext(ctx, "list open orders failed, placing triggers anyway",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
	posSide := c.positionSide(upd.Side)
	for _, o := range orders {
		if !o.IsProtective() || (posSide != "" && o.PositionSide != posSide) {
			continue
		}
		if err := c.handle.CancelOrder(ctx, symbol, o.OrderID); err != nil {
			c.logger.WarnContext(ctx, "cancel trigger order failed",
				slog.String("symbol", symbol),
				slog.Int64("order_id", o.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		out.Cancelled++
	}

	if wantSL {
		out.SLOID = c.placeProtective(ctx, symbol, upd.Side, OrderTypeStopMarket, *upd.StopLossPrice, "stop_loss", &errs)
	}
	if wantTP {
		out.TPOID = c.placeProtective(ctx, symbol, upd.Side, OrderTypeTakeProfitMarket, *upd.TakeProfitPrice, "take_profit", &errs)
	}

	out.Success = (!wantSL || out.SLOID != nil) && (!wantTP || out.TPOID != nil)
	out.Errors = errs.Items()
	return out
}

func (c *Client) placeProtective(ctx context.Context, symbol string, side domain.Side, orderType string, stopPrice float64, label string, errs *exchange.ErrorList) *string {
	order, err := c.handle.CreateOrder(ctx, OrderParams{
		Symbol:        symbol,
		Side:          orderSide(!side.IsBuy()),
		Type:          orderType,
		PositionSide:  c.positionSide(side),
		StopPrice:     exchange.FormatDecimal(stopPrice),
		ClosePosition: true,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "trigger order failed",
			slog.String("symbol", symbol),
			slog.String("type", orderType),
			slog.String("error", err.Error()),
		)
		errs.AddErr(label, err)
		return nil
	}
	before := errs.Len()
	collectErrors(order, label, errs)
	if errs.Len() > before || statusFailed(order.Status) {
		return nil
	}
	c.logger.InfoContext(ctx, "trigger order placed",
		slog.String("symbol", symbol),
		slog.String("type", orderType),
		slog.Float64("stop_price", stopPrice),
	)
	return extractOrderID(order)
}

// liveAmount returns the absolute position amount held on the given side.
func (c *Client) liveAmount(ctx context.Context, symbol string, side domain.Side) (float64, error) {
	rows, err := c.handle.PositionRisk(ctx, symbol)
	if err != nil {
		return 0, err
	}
	posSide := c.positionSide(side)
	for _, r := range rows {
		if r.Symbol != symbol {
			continue
		}
		if posSide != "" && r.PositionSide != posSide {
			continue
		}
		amt := r.Amount()
		if posSide == "" && (amt > 0) != side.IsBuy() {
			continue
		}
		return math.Abs(amt), nil
	}
	return 0, nil
}

func (c *Client) positionSide(side domain.Side) string {
	if !c.opts.HedgeMode {
		return ""
	}
	if side == domain.SideShort {
		return "SHORT"
	}
	return "LONG"
}

func (c *Client) decimals(coin string) int32 {
	if d, ok := c.opts.QuantityDecimals[strings.ToUpper(coin)]; ok {
		return d
	}
	return c.opts.DefaultQuantityDecimals
}

func (c *Client) quantity(coin string, size float64) float64 {
	return exchange.FloorToDecimals(size, c.decimals(coin))
}

func orderSide(isBuy bool) string {
	if isBuy {
		return "BUY"
	}
	return "SELL"
}

func statusFailed(status string) bool {
	_, ok := failedStatuses[strings.ToLower(status)]
	return ok
}

// collectErrors adds a failed status and any embedded code/msg to errs.
func collectErrors(o Order, label string, errs *exchange.ErrorList) {
	if statusFailed(o.Status) {
		errs.Addf("%s: status=%s", label, o.Status)
	}
	msg := o.Msg
	code := o.Code
	if msg == "" && o.Info != nil {
		if m, ok := o.Info["msg"].(string); ok {
			msg = m
		}
		if cv, ok := o.Info["code"].(float64); ok {
			code = int(cv)
		}
	}
	if msg == "" {
		return
	}
	if code != 0 {
		errs.Addf("%s: %d %s", label, code, msg)
		return
	}
	errs.Addf("%s: %s", label, msg)
}

// extractOrderID returns orderId, then id, then info.orderId.
func extractOrderID(o Order) *string {
	if o.OrderID != 0 {
		s := strconv.FormatInt(o.OrderID, 10)
		return &s
	}
	if o.ID != "" {
		id := o.ID
		return &id
	}
	if o.Info != nil {
		switch v := o.Info["orderId"].(type) {
		case float64:
			s := strconv.FormatInt(int64(v), 10)
			return &s
		case string:
			if v != "" {
				return &v
			}
		}
	}
	return nil
}

func clientOrderID() string {
	return "pb-" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

var (
	_ exchange.Client         = (*Client)(nil)
	_ exchange.TriggerManager = (*Client)(nil)
)
