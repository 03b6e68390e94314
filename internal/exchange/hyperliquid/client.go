// Package hyperliquid adapts the Hyperliquid perpetuals API to the
// exchange.Client contract.
package hyperliquid

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
)

const notAcceptedMessage = "Hyperliquid order was not accepted; see raw payload for details."

// Handle is the lower-level Hyperliquid API surface the adapter needs. The
// REST handle in this package implements it; tests use fakes.
type Handle interface {
	UpdateLeverage(ctx context.Context, coin string, leverage int, isCross bool) (ExchangeResponse, error)
	PlaceOrder(ctx context.Context, order OrderRequest) (ExchangeResponse, error)
	Cancel(ctx context.Context, coin string, oid int64) (ExchangeResponse, error)
	UserState(ctx context.Context) (UserState, error)
	L2Book(ctx context.Context, coin string) (L2Book, error)
	OpenOrders(ctx context.Context) ([]OpenOrder, error)
}

// Options tune price normalisation.
type Options struct {
	DefaultPriceStep float64
	PriceSteps       map[string]float64 // per coin tick size
	SizeDecimals     map[string]int32   // per coin size precision
}

// Client implements exchange.Client and exchange.TriggerManager.
type Client struct {
	handle Handle
	opts   Options
	logger *slog.Logger
}

// New creates a Hyperliquid adapter around handle.
func New(handle Handle, opts Options, logger *slog.Logger) *Client {
	if opts.DefaultPriceStep <= 0 {
		opts.DefaultPriceStep = exchange.DefaultPriceStep
	}
	return &Client{
		handle: handle,
		opts:   opts,
		logger: logger.With(slog.String("component", "hyperliquid")),
	}
}

// PlaceEntry sets leverage, submits the entry and, once it has filled,
// attaches reduce-only stop-loss and take-profit trigger orders.
func (c *Client) PlaceEntry(ctx context.Context, req exchange.EntryRequest) domain.EntryResult {
	coin := domain.BaseSymbol(req.Symbol)
	res := domain.EntryResult{Backend: domain.BackendHyperliquid, Extra: map[string]any{}}
	var errs exchange.ErrorList

	size := c.normalizeSize(coin, req.Size)
	if size <= 0 {
		errs.Add("entry: size must be positive")
		res.Errors = errs.Items()
		return res
	}

	if req.Leverage > 0 {
		lev := int(math.Max(1, math.Floor(req.Leverage)))
		resp, err := c.handle.UpdateLeverage(ctx, coin, lev, false)
		if err != nil || !resp.OK() {
			warn := leverageWarning(resp, err)
			c.logger.WarnContext(ctx, "set leverage failed, continuing with account leverage",
				slog.String("coin", coin),
				slog.Int("leverage", lev),
				slog.String("error", warn),
			)
			res.Extra["leverage_warning"] = warn
		}
	}

	tif := "Ioc"
	if strings.EqualFold(req.Liquidity, exchange.LiquidityMaker) {
		tif = "Gtc"
	}
	limitPx, priceErr := c.marketPrice(ctx, coin, req.Side.IsBuy(), req.EntryPrice)
	if priceErr != nil {
		errs.AddErr("entry", priceErr)
		res.Errors = errs.Items()
		return res
	}
	res.Extra["tif"] = tif
	res.Extra["limit_price"] = limitPx

	raw := map[string]any{}
	res.Raw = raw

	entryResp, err := c.handle.PlaceOrder(ctx, OrderRequest{
		Coin:    coin,
		IsBuy:   req.Side.IsBuy(),
		Size:    size,
		LimitPx: limitPx,
		TIF:     tif,
	})
	if err != nil {
		errs.AddErr("entry", err)
		res.Errors = errs.Items()
		return res
	}
	raw["entry"] = entryResp

	outcome := evaluate(entryResp, "entry", &errs)
	res.EntryOID = outcome.oid
	res.Success = entryResp.OK() && !outcome.hasErrors && (outcome.filled || outcome.resting)

	if outcome.filled {
		res.Extra["fill_price"] = outcome.fillPrice
		res.Extra["filled_size"] = outcome.fillSize
	}

	if res.Success && outcome.filled {
		protectSize := size
		if outcome.fillSize > 0 {
			protectSize = outcome.fillSize
		}
		if req.StopLossPrice != nil && *req.StopLossPrice > 0 {
			resp, oid := c.placeTrigger(ctx, coin, req.Side, protectSize, *req.StopLossPrice, "sl", "stop_loss", &errs)
			raw["stop_loss"] = resp
			res.SLOID = oid
		}
		if req.TakeProfitPrice != nil && *req.TakeProfitPrice > 0 {
			resp, oid := c.placeTrigger(ctx, coin, req.Side, protectSize, *req.TakeProfitPrice, "tp", "take_profit", &errs)
			raw["take_profit"] = resp
			res.TPOID = oid
		}
	} else if res.Success {
		res.Extra["triggers_deferred"] = true
	}

	if !res.Success && errs.Len() == 0 {
		errs.Add(notAcceptedMessage)
	}
	res.Errors = errs.Items()
	return res
}

// ClosePosition submits a reduce-only IOC order against the live position.
func (c *Client) ClosePosition(ctx context.Context, req exchange.CloseRequest) domain.CloseResult {
	coin := domain.BaseSymbol(req.Symbol)
	res := domain.CloseResult{Backend: domain.BackendHyperliquid, Extra: map[string]any{}}
	var errs exchange.ErrorList

	var (
		szi      float64
		sziKnown bool
	)
	state, err := c.handle.UserState(ctx)
	if err != nil {
		if req.Size == nil {
			errs.AddErr("close: fetch position", err)
			res.Errors = errs.Items()
			return res
		}
		c.logger.WarnContext(ctx, "user state unavailable, closing requested size",
			slog.String("coin", coin),
			slog.String("error", err.Error()),
		)
	} else {
		// A coin missing from the account state is flat.
		szi, _ = state.SignedSize(coin)
		sziKnown = true
	}

	closeSize := math.Abs(szi)
	if req.Size != nil {
		closeSize = *req.Size
		if sziKnown && closeSize > math.Abs(szi) {
			closeSize = math.Abs(szi)
		}
	}
	closeSize = c.normalizeSize(coin, closeSize)
	if closeSize <= 0 {
		res.Success = true
		res.Errors = []string{}
		res.Extra["reason"] = "no position size to close"
		return res
	}

	isBuy := req.Side == domain.SideShort
	if sziKnown && szi != 0 {
		isBuy = szi < 0
	}

	fallback := 0.0
	if req.FallbackPrice != nil {
		fallback = *req.FallbackPrice
	}
	px, err := c.marketPrice(ctx, coin, isBuy, fallback)
	if err != nil {
		errs.AddErr("close", err)
		res.Errors = errs.Items()
		return res
	}

	resp, err := c.handle.PlaceOrder(ctx, OrderRequest{
		Coin:       coin,
		IsBuy:      isBuy,
		Size:       closeSize,
		LimitPx:    px,
		ReduceOnly: true,
		TIF:        "Ioc",
	})
	if err != nil {
		errs.AddErr("close", err)
		res.Errors = errs.Items()
		return res
	}
	res.Raw = resp

	outcome := evaluate(resp, "close", &errs)
	res.CloseOID = outcome.oid
	res.Success = resp.OK() && !outcome.hasErrors
	res.Extra["close_size"] = closeSize
	if outcome.filled {
		res.Extra["fill_price"] = outcome.fillPrice
		res.Extra["filled_size"] = outcome.fillSize
	}

	if !res.Success && errs.Len() == 0 {
		errs.Add(notAcceptedMessage)
	}
	res.Errors = errs.Items()
	return res
}

// UpdateTriggers cancels every reduce-only trigger order resting for the coin
// and places the requested stop-loss / take-profit in their place.
func (c *Client) UpdateTriggers(ctx context.Context, upd exchange.TriggerUpdate) exchange.TriggerResult {
	coin := domain.BaseSymbol(upd.Symbol)
	var errs exchange.ErrorList
	out := exchange.TriggerResult{}

	orders, err := c.handle.OpenOrders(ctx)
	if err != nil {
		errs.AddErr("cancel: list open orders", err)
		out.Errors = errs.Items()
		return out
	}
	for _, o := range orders {
		if o.Coin != coin || !o.IsProtective() {
			continue
		}
		resp, err := c.handle.Cancel(ctx, coin, o.OID)
		if err != nil {
			errs.AddErr(fmt.Sprintf("cancel %d", o.OID), err)
			continue
		}
		before := errs.Len()
		evaluate(resp, fmt.Sprintf("cancel %d", o.OID), &errs)
		if resp.OK() && errs.Len() == before {
			out.Cancelled++
		}
	}

	size := c.normalizeSize(coin, upd.Size)
	if upd.StopLossPrice != nil && *upd.StopLossPrice > 0 {
		_, out.SLOID = c.placeTrigger(ctx, coin, upd.Side, size, *upd.StopLossPrice, "sl", "stop_loss", &errs)
	}
	if upd.TakeProfitPrice != nil && *upd.TakeProfitPrice > 0 {
		_, out.TPOID = c.placeTrigger(ctx, coin, upd.Side, size, *upd.TakeProfitPrice, "tp", "take_profit", &errs)
	}

	out.Errors = errs.Items()
	out.Success = errs.Len() == 0
	return out
}

func (c *Client) placeTrigger(ctx context.Context, coin string, side domain.Side, size, triggerPx float64, tpsl, label string, errs *exchange.ErrorList) (ExchangeResponse, *string) {
	// Trigger orders close the position, so they trade against its side.
	isBuy := !side.IsBuy()
	px := exchange.RoundToStep(triggerPx, c.priceStep(coin), isBuy)

	resp, err := c.handle.PlaceOrder(ctx, OrderRequest{
		Coin:       coin,
		IsBuy:      isBuy,
		Size:       size,
		LimitPx:    px,
		ReduceOnly: true,
		Trigger:    &Trigger{TriggerPx: px, IsMarket: true, TPSL: tpsl},
	})
	if err != nil {
		errs.AddErr(label, err)
		return resp, nil
	}

	outcome := evaluate(resp, label, errs)
	if !resp.OK() && !outcome.hasErrors {
		errs.Add(label + ": trigger order was not accepted")
	}
	return resp, outcome.oid
}

// marketPrice crosses the spread by one tick so an IOC order fills, falling
// back to the caller's price when the book is unavailable.
func (c *Client) marketPrice(ctx context.Context, coin string, isBuy bool, fallback float64) (float64, error) {
	step := c.priceStep(coin)
	book, err := c.handle.L2Book(ctx, coin)
	if err == nil {
		if isBuy && book.BestAsk() > 0 {
			return exchange.RoundToStep(book.BestAsk()+step, step, true), nil
		}
		if !isBuy && book.BestBid() > 0 {
			return exchange.RoundToStep(book.BestBid()-step, step, false), nil
		}
	} else {
		c.logger.WarnContext(ctx, "l2 book unavailable, using fallback price",
			slog.String("coin", coin),
			slog.String("error", err.Error()),
		)
	}
	if fallback > 0 {
		return exchange.RoundToStep(fallback, step, isBuy), nil
	}
	return 0, fmt.Errorf("no market price available for %s", coin)
}

func (c *Client) priceStep(coin string) float64 {
	if s, ok := c.opts.PriceSteps[coin]; ok && s > 0 {
		return s
	}
	return c.opts.DefaultPriceStep
}

func (c *Client) normalizeSize(coin string, size float64) float64 {
	if d, ok := c.opts.SizeDecimals[coin]; ok {
		return exchange.FloorToDecimals(size, d)
	}
	return size
}

// orderOutcome summarises the statuses of an order response.
type orderOutcome struct {
	oid       *string
	filled    bool
	resting   bool
	hasErrors bool
	fillPrice float64
	fillSize  float64
}

// evaluate folds an exchange response into outcome flags and labelled errors.
func evaluate(resp ExchangeResponse, label string, errs *exchange.ErrorList) orderOutcome {
	var out orderOutcome

	if !resp.OK() {
		out.hasErrors = true
		if text := resp.ErrorText(); text != "" {
			errs.Add(label + ": " + text)
		} else if resp.Status != "" {
			errs.Add(label + ": status " + resp.Status)
		}
	}

	for _, st := range resp.Statuses() {
		if st.Error != "" {
			out.hasErrors = true
			errs.Add(label + ": " + st.Error)
		}
		if st.Text != "" && st.Text != "success" && st.Text != "ok" && st.Text != "waitingForFill" && st.Text != "waitingForTrigger" {
			out.hasErrors = true
			errs.Add(label + ": " + st.Text)
		}
		if st.Filled != nil {
			out.filled = true
			out.fillPrice = st.Filled.Price()
			out.fillSize = st.Filled.Size()
		}
		if st.Resting != nil {
			out.resting = true
		}
		if out.oid == nil {
			if oid, ok := st.OID(); ok {
				s := strconv.FormatInt(oid, 10)
				out.oid = &s
			}
		}
	}

	if out.oid == nil {
		out.oid = findOID(resp.Response)
	}
	return out
}

// findOID walks an arbitrary JSON payload and returns the first "oid" value.
func findOID(payload json.RawMessage) *string {
	if len(payload) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil
	}
	return walkOID(v)
}

func walkOID(v any) *string {
	switch t := v.(type) {
	case map[string]any:
		if raw, ok := t["oid"]; ok {
			switch id := raw.(type) {
			case float64:
				s := strconv.FormatInt(int64(id), 10)
				return &s
			case string:
				if id != "" {
					return &id
				}
			}
		}
		for _, k := range walkOrder(t) {
			if s := walkOID(t[k]); s != nil {
				return s
			}
		}
	case []any:
		for _, child := range t {
			if s := walkOID(child); s != nil {
				return s
			}
		}
	}
	return nil
}

// walkOrder visits "statuses" first and the remaining keys sorted, so a
// payload with several nested oids always yields the same one.
func walkOrder(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if k != "statuses" {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	if _, ok := m["statuses"]; ok {
		keys = append([]string{"statuses"}, keys...)
	}
	return keys
}

func leverageWarning(resp ExchangeResponse, err error) string {
	if err != nil {
		return err.Error()
	}
	if text := resp.ErrorText(); text != "" {
		return text
	}
	return "status " + resp.Status
}

var (
	_ exchange.Client         = (*Client)(nil)
	_ exchange.TriggerManager = (*Client)(nil)
)
