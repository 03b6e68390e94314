package hyperliquid

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
)

type fakeHandle struct {
	leverageResp ExchangeResponse
	leverageErr  error
	orderResps   []ExchangeResponse
	orderErr     error
	book         L2Book
	bookErr      error
	state        UserState
	stateErr     error
	openOrders   []OpenOrder

	leverageCalls []int
	orders        []OrderRequest
	cancels       []int64
}

func (f *fakeHandle) UpdateLeverage(_ context.Context, _ string, leverage int, _ bool) (ExchangeResponse, error) {
	f.leverageCalls = append(f.leverageCalls, leverage)
	return f.leverageResp, f.leverageErr
}

func (f *fakeHandle) PlaceOrder(_ context.Context, order OrderRequest) (ExchangeResponse, error) {
	f.orders = append(f.orders, order)
	if f.orderErr != nil {
		return ExchangeResponse{}, f.orderErr
	}
	if len(f.orderResps) == 0 {
		return ExchangeResponse{Status: "ok"}, nil
	}
	resp := f.orderResps[0]
	f.orderResps = f.orderResps[1:]
	return resp, nil
}

func (f *fakeHandle) Cancel(_ context.Context, _ string, oid int64) (ExchangeResponse, error) {
	f.cancels = append(f.cancels, oid)
	return statusResp(`"success"`), nil
}

func (f *fakeHandle) UserState(context.Context) (UserState, error) { return f.state, f.stateErr }

func (f *fakeHandle) L2Book(context.Context, string) (L2Book, error) { return f.book, f.bookErr }

func (f *fakeHandle) OpenOrders(context.Context) ([]OpenOrder, error) { return f.openOrders, nil }

func statusResp(statuses ...string) ExchangeResponse {
	list := "["
	for i, s := range statuses {
		if i > 0 {
			list += ","
		}
		list += s
	}
	list += "]"
	return ExchangeResponse{
		Status:   "ok",
		Response: json.RawMessage(`{"type":"order","data":{"statuses":` + list + `}}`),
	}
}

func book(bid, ask string) L2Book {
	return L2Book{Coin: "BTC", Levels: [][]L2Level{{{Px: bid, Sz: "1"}}, {{Px: ask, Sz: "1"}}}}
}

func userState(t *testing.T, raw string) UserState {
	t.Helper()
	var u UserState
	require.NoError(t, json.Unmarshal([]byte(raw), &u))
	return u
}

func newTestClient(h Handle) *Client {
	return New(h, Options{}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func entryReq() exchange.EntryRequest {
	return exchange.EntryRequest{
		Symbol:          "BTCUSDT",
		Side:            domain.SideLong,
		Size:            0.02,
		EntryPrice:      50000,
		StopLossPrice:   domain.Float(49000),
		TakeProfitPrice: domain.Float(52000),
		Leverage:        5,
		Liquidity:       exchange.LiquidityTaker,
	}
}

func TestPlaceEntry_FilledPlacesTriggers(t *testing.T) {
	h := &fakeHandle{
		leverageResp: ExchangeResponse{Status: "ok"},
		book:         book("49999.5", "50000.5"),
		orderResps: []ExchangeResponse{
			statusResp(`{"filled":{"totalSz":"0.02","avgPx":"50000.6","oid":101}}`),
			statusResp(`{"resting":{"oid":102}}`),
			statusResp(`{"resting":{"oid":103}}`),
		},
	}
	res := newTestClient(h).PlaceEntry(context.Background(), entryReq())

	require.True(t, res.Success, res.Errors)
	assert.Empty(t, res.Errors)
	assert.Equal(t, domain.BackendHyperliquid, res.Backend)
	assert.Equal(t, "101", domain.Deref(res.EntryOID))
	assert.Equal(t, "102", domain.Deref(res.SLOID))
	assert.Equal(t, "103", domain.Deref(res.TPOID))
	assert.Equal(t, 50000.6, res.FillPrice(0))
	assert.Equal(t, []int{5}, h.leverageCalls)

	require.Len(t, h.orders, 3)
	entry := h.orders[0]
	assert.True(t, entry.IsBuy)
	assert.Equal(t, "Ioc", entry.TIF)
	assert.InDelta(t, 50000.51, entry.LimitPx, 1e-9)
	assert.False(t, entry.ReduceOnly)

	sl := h.orders[1]
	assert.False(t, sl.IsBuy)
	assert.True(t, sl.ReduceOnly)
	require.NotNil(t, sl.Trigger)
	assert.Equal(t, "sl", sl.Trigger.TPSL)
	assert.Equal(t, 49000.0, sl.Trigger.TriggerPx)
	assert.Equal(t, "tp", h.orders[2].Trigger.TPSL)
}

func TestPlaceEntry_TriggerFailureKeepsSuccess(t *testing.T) {
	h := &fakeHandle{
		leverageResp: ExchangeResponse{Status: "ok"},
		book:         book("100", "101"),
		orderResps: []ExchangeResponse{
			statusResp(`{"filled":{"totalSz":"0.02","avgPx":"101","oid":7}}`),
			statusResp(`{"error":"Invalid trigger price"}`),
			statusResp(`{"resting":{"oid":9}}`),
		},
	}
	res := newTestClient(h).PlaceEntry(context.Background(), entryReq())

	assert.True(t, res.Success)
	assert.Equal(t, []string{"stop_loss: Invalid trigger price"}, res.Errors)
	assert.Nil(t, res.SLOID)
	assert.Equal(t, "9", domain.Deref(res.TPOID))
}

func TestPlaceEntry_RejectedDoesNotPlaceTriggers(t *testing.T) {
	h := &fakeHandle{
		leverageResp: ExchangeResponse{Status: "ok"},
		book:         book("100", "101"),
		orderResps: []ExchangeResponse{
			statusResp(`{"error":"Insufficient margin to place order."}`),
		},
	}
	res := newTestClient(h).PlaceEntry(context.Background(), entryReq())

	assert.False(t, res.Success)
	assert.Equal(t, []string{"entry: Insufficient margin to place order."}, res.Errors)
	assert.Len(t, h.orders, 1)
}

func TestPlaceEntry_EnvelopeError(t *testing.T) {
	h := &fakeHandle{
		leverageResp: ExchangeResponse{Status: "ok"},
		book:         book("100", "101"),
		orderResps: []ExchangeResponse{
			{Status: "err", Response: json.RawMessage(`"User or API Wallet does not exist."`)},
		},
	}
	res := newTestClient(h).PlaceEntry(context.Background(), entryReq())

	assert.False(t, res.Success)
	assert.Equal(t, []string{"entry: User or API Wallet does not exist."}, res.Errors)
}

func TestPlaceEntry_NotAcceptedFallbackMessage(t *testing.T) {
	h := &fakeHandle{
		leverageResp: ExchangeResponse{Status: "ok"},
		book:         book("100", "101"),
		orderResps:   []ExchangeResponse{statusResp()},
	}
	res := newTestClient(h).PlaceEntry(context.Background(), entryReq())

	assert.False(t, res.Success)
	assert.Equal(t, []string{notAcceptedMessage}, res.Errors)
}

func TestPlaceEntry_LeverageFailureIsWarningOnly(t *testing.T) {
	h := &fakeHandle{
		leverageErr: errors.New("timeout"),
		book:        book("100", "101"),
		orderResps:  []ExchangeResponse{statusResp(`{"filled":{"totalSz":"0.02","avgPx":"101","oid":1}}`)},
	}
	req := entryReq()
	req.StopLossPrice = nil
	req.TakeProfitPrice = nil
	res := newTestClient(h).PlaceEntry(context.Background(), req)

	assert.True(t, res.Success)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "timeout", res.Extra["leverage_warning"])
}

func TestPlaceEntry_MakerRestingDefersTriggers(t *testing.T) {
	h := &fakeHandle{
		leverageResp: ExchangeResponse{Status: "ok"},
		book:         book("100", "101"),
		orderResps:   []ExchangeResponse{statusResp(`{"resting":{"oid":55}}`)},
	}
	req := entryReq()
	req.Side = domain.SideShort
	req.Liquidity = exchange.LiquidityMaker
	res := newTestClient(h).PlaceEntry(context.Background(), req)

	assert.True(t, res.Success)
	assert.Equal(t, "55", domain.Deref(res.EntryOID))
	assert.Equal(t, true, res.Extra["triggers_deferred"])
	require.Len(t, h.orders, 1)
	assert.Equal(t, "Gtc", h.orders[0].TIF)
	assert.InDelta(t, 99.99, h.orders[0].LimitPx, 1e-9)
}

func TestClosePosition_UsesLiveSizeAndDirection(t *testing.T) {
	h := &fakeHandle{
		book: book("100", "101"),
		state: userState(t, `{"assetPositions":[{"position":{"coin":"BTC","szi":"-0.5","entryPx":"105"}}]}`),
		orderResps: []ExchangeResponse{statusResp(`{"filled":{"totalSz":"0.5","avgPx":"101.01","oid":88}}`)},
	}
	res := newTestClient(h).ClosePosition(context.Background(), exchange.CloseRequest{Symbol: "BTC", Side: domain.SideLong})

	require.True(t, res.Success, res.Errors)
	assert.Equal(t, "88", domain.Deref(res.CloseOID))
	require.Len(t, h.orders, 1)
	o := h.orders[0]
	assert.True(t, o.IsBuy, "short position closes with a buy")
	assert.True(t, o.ReduceOnly)
	assert.Equal(t, "Ioc", o.TIF)
	assert.Equal(t, 0.5, o.Size)
}

func TestClosePosition_NothingToClose(t *testing.T) {
	h := &fakeHandle{book: book("100", "101")}
	res := newTestClient(h).ClosePosition(context.Background(), exchange.CloseRequest{Symbol: "ETH", Side: domain.SideLong})

	assert.True(t, res.Success)
	assert.Equal(t, "no position size to close", res.Extra["reason"])
	assert.Empty(t, h.orders)
}

func TestClosePosition_FallbackPriceWhenBookMissing(t *testing.T) {
	h := &fakeHandle{
		bookErr:    errors.New("book down"),
		stateErr:   errors.New("state down"),
		orderResps: []ExchangeResponse{statusResp(`{"filled":{"totalSz":"1","avgPx":"99","oid":3}}`)},
	}
	res := newTestClient(h).ClosePosition(context.Background(), exchange.CloseRequest{
		Symbol:        "SOL",
		Side:          domain.SideLong,
		Size:          domain.Float(1),
		FallbackPrice: domain.Float(99.123),
	})

	require.True(t, res.Success, res.Errors)
	require.Len(t, h.orders, 1)
	assert.False(t, h.orders[0].IsBuy)
	assert.InDelta(t, 99.12, h.orders[0].LimitPx, 1e-9)
}

func TestClosePosition_CoinMissingFromStateIsFlat(t *testing.T) {
	h := &fakeHandle{
		book:  book("100", "101"),
		state: userState(t, `{"assetPositions":[{"position":{"coin":"ETH","szi":"2","entryPx":"3000"}}]}`),
	}
	res := newTestClient(h).ClosePosition(context.Background(), exchange.CloseRequest{
		Symbol: "BTC", Side: domain.SideLong, Size: domain.Float(0.5),
	})

	require.True(t, res.Success, res.Errors)
	assert.Equal(t, "no position size to close", res.Extra["reason"])
	assert.Empty(t, h.orders)
}

func TestPlaceEntry_FractionalLeverageIsFloored(t *testing.T) {
	h := &fakeHandle{
		leverageResp: ExchangeResponse{Status: "ok"},
		book:         book("49999.5", "50000.5"),
		orderResps:   []ExchangeResponse{statusResp(`{"filled":{"totalSz":"0.02","avgPx":"50000","oid":7}}`)},
	}
	req := entryReq()
	req.Leverage = 2.5
	req.StopLossPrice = nil
	req.TakeProfitPrice = nil
	res := newTestClient(h).PlaceEntry(context.Background(), req)

	require.True(t, res.Success, res.Errors)
	assert.Equal(t, []int{2}, h.leverageCalls)
}

func TestFindOID_PrefersStatuses(t *testing.T) {
	payload := json.RawMessage(`{"meta":{"oid":1},"type":"order","data":{"statuses":[{"resting":{"oid":42}}]},"zzz":{"oid":9}}`)
	for i := 0; i < 20; i++ {
		assert.Equal(t, "42", domain.Deref(findOID(payload)))
	}
	assert.Equal(t, "5", domain.Deref(findOID(json.RawMessage(`{"statuses":[{"oid":5}],"a":{"oid":6}}`))))
	assert.Nil(t, findOID(nil))
}

func TestUpdateTriggers_CancelsAndReplaces(t *testing.T) {
	h := &fakeHandle{
		openOrders: []OpenOrder{
			{Coin: "BTC", OID: 1, IsTrigger: true, ReduceOnly: true},
			{Coin: "BTC", OID: 2, IsTrigger: false},
			{Coin: "ETH", OID: 3, IsTrigger: true, ReduceOnly: true},
		},
		orderResps: []ExchangeResponse{
			statusResp(`{"resting":{"oid":10}}`),
			statusResp(`{"resting":{"oid":11}}`),
		},
	}
	out := newTestClient(h).UpdateTriggers(context.Background(), exchange.TriggerUpdate{
		Symbol:          "BTCUSDT",
		Side:            domain.SideLong,
		Size:            0.1,
		StopLossPrice:   domain.Float(48000),
		TakeProfitPrice: domain.Float(55000),
	})

	assert.True(t, out.Success, out.Errors)
	assert.Equal(t, []int64{1}, h.cancels)
	assert.Equal(t, 1, out.Cancelled)
	assert.Equal(t, "10", domain.Deref(out.SLOID))
	assert.Equal(t, "11", domain.Deref(out.TPOID))
}

func TestFindOID_Nested(t *testing.T) {
	oid := findOID(json.RawMessage(`{"data":{"statuses":[{"other":{"oid":42}}]}}`))
	assert.Equal(t, "42", domain.Deref(oid))
	assert.Nil(t, findOID(json.RawMessage(`{"data":{}}`)))
}
