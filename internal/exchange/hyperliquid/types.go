package hyperliquid

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// OrderRequest is a single order as the adapter describes it to a Handle.
type OrderRequest struct {
	Coin       string
	IsBuy      bool
	Size       float64
	LimitPx    float64
	ReduceOnly bool
	TIF        string   // "Gtc", "Ioc" or "Alo"; ignored for trigger orders
	Trigger    *Trigger // non-nil for stop-loss / take-profit orders
}

// Trigger turns an order into a native stop-loss or take-profit.
type Trigger struct {
	TriggerPx float64
	IsMarket  bool
	TPSL      string // "sl" or "tp"
}

// ExchangeResponse is the envelope returned by the /exchange endpoint. On
// failure Response holds a plain error string instead of an object.
type ExchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// OK reports whether the envelope status is "ok".
func (r ExchangeResponse) OK() bool { return r.Status == "ok" }

// ErrorText returns the response body when it is a bare string.
func (r ExchangeResponse) ErrorText() string {
	trimmed := bytes.TrimSpace(r.Response)
	if len(trimmed) == 0 || trimmed[0] != '"' {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err != nil {
		return ""
	}
	return s
}

// Statuses decodes response.data.statuses; nil when absent.
func (r ExchangeResponse) Statuses() []OrderStatus {
	var body struct {
		Data struct {
			Statuses []OrderStatus `json:"statuses"`
		} `json:"data"`
	}
	trimmed := bytes.TrimSpace(r.Response)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil
	}
	if err := json.Unmarshal(trimmed, &body); err != nil {
		return nil
	}
	return body.Data.Statuses
}

// OrderStatus is one entry of response.data.statuses. Text carries bare
// string statuses such as "success" or "waitingForFill".
type OrderStatus struct {
	Resting *RestingStatus `json:"resting,omitempty"`
	Filled  *FilledStatus  `json:"filled,omitempty"`
	Error   string         `json:"error,omitempty"`
	Text    string         `json:"-"`
}

// UnmarshalJSON accepts both object and bare-string statuses.
func (s *OrderStatus) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		return json.Unmarshal(trimmed, &s.Text)
	}
	type alias OrderStatus
	var a alias
	if err := json.Unmarshal(trimmed, &a); err != nil {
		return err
	}
	*s = OrderStatus(a)
	return nil
}

// OID returns the order id carried by the status, if any.
func (s OrderStatus) OID() (int64, bool) {
	switch {
	case s.Filled != nil && s.Filled.OID != 0:
		return s.Filled.OID, true
	case s.Resting != nil && s.Resting.OID != 0:
		return s.Resting.OID, true
	}
	return 0, false
}

// RestingStatus reports an order that rests on the book.
type RestingStatus struct {
	OID int64 `json:"oid"`
}

// FilledStatus reports an immediate (possibly partial) fill.
type FilledStatus struct {
	TotalSz string `json:"totalSz"`
	AvgPx   string `json:"avgPx"`
	OID     int64  `json:"oid"`
}

// Size returns the filled size as a float.
func (f FilledStatus) Size() float64 { return parseFloat(f.TotalSz) }

// Price returns the average fill price as a float.
func (f FilledStatus) Price() float64 { return parseFloat(f.AvgPx) }

// UserState is the subset of clearinghouseState the adapter reads.
type UserState struct {
	AssetPositions []AssetPosition `json:"assetPositions"`
	MarginSummary  struct {
		AccountValue string `json:"accountValue"`
	} `json:"marginSummary"`
}

// AssetPosition wraps one live position.
type AssetPosition struct {
	Position struct {
		Coin    string `json:"coin"`
		Szi     string `json:"szi"`
		EntryPx string `json:"entryPx"`
	} `json:"position"`
}

// SignedSize returns the live signed size for coin (negative for shorts).
func (u UserState) SignedSize(coin string) (float64, bool) {
	for _, ap := range u.AssetPositions {
		if ap.Position.Coin == coin {
			return parseFloat(ap.Position.Szi), true
		}
	}
	return 0, false
}

// L2Book is an order book snapshot; Levels[0] are bids, Levels[1] asks.
type L2Book struct {
	Coin   string      `json:"coin"`
	Levels [][]L2Level `json:"levels"`
}

// L2Level is one price level.
type L2Level struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

// BestBid returns the highest bid or 0.
func (b L2Book) BestBid() float64 { return b.top(0) }

// BestAsk returns the lowest ask or 0.
func (b L2Book) BestAsk() float64 { return b.top(1) }

func (b L2Book) top(side int) float64 {
	if len(b.Levels) <= side || len(b.Levels[side]) == 0 {
		return 0
	}
	return parseFloat(b.Levels[side][0].Px)
}

// OpenOrder is one row of frontendOpenOrders.
type OpenOrder struct {
	Coin       string `json:"coin"`
	OID        int64  `json:"oid"`
	Side       string `json:"side"`
	Sz         string `json:"sz"`
	TriggerPx  string `json:"triggerPx"`
	IsTrigger  bool   `json:"isTrigger"`
	OrderType  string `json:"orderType"`
	ReduceOnly bool   `json:"reduceOnly"`
}

// IsProtective reports whether the order is a reduce-only trigger order.
func (o OpenOrder) IsProtective() bool {
	return o.IsTrigger && o.ReduceOnly
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
