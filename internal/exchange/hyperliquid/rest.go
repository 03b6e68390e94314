package hyperliquid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/crypto"
	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/exchange"
)

// RESTConfig configures the REST handle.
type RESTConfig struct {
	BaseURL string // e.g. "https://api.hyperliquid.xyz"
	Vault   string // optional vault / subaccount address
	Timeout time.Duration
}

// RESTHandle talks to the Hyperliquid /info and /exchange endpoints.
type RESTHandle struct {
	baseURL    string
	vault      string
	httpClient *http.Client
	signer     *crypto.Signer
	logger     *slog.Logger

	mu        sync.Mutex
	assets    map[string]int
	lastNonce int64
}

// NewRESTHandle creates a REST handle that signs actions with signer.
func NewRESTHandle(cfg RESTConfig, signer *crypto.Signer, logger *slog.Logger) *RESTHandle {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RESTHandle{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		vault:      cfg.Vault,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
		logger:     logger.With(slog.String("component", "hyperliquid_rest")),
	}
}

// Address returns the account whose state is queried.
func (h *RESTHandle) Address() string {
	if h.vault != "" {
		return h.vault
	}
	return h.signer.Address().Hex()
}

// ---------------------------------------------------------------------------
// Wire actions. Field order matters: the msgpack encoding of these structs is
// what gets hashed and signed.
// ---------------------------------------------------------------------------

type orderWire struct {
	Asset      int           `msgpack:"a" json:"a"`
	IsBuy      bool          `msgpack:"b" json:"b"`
	LimitPx    string        `msgpack:"p" json:"p"`
	Size       string        `msgpack:"s" json:"s"`
	ReduceOnly bool          `msgpack:"r" json:"r"`
	Type       orderTypeWire `msgpack:"t" json:"t"`
}

type orderTypeWire struct {
	Limit   *limitWire   `msgpack:"limit,omitempty" json:"limit,omitempty"`
	Trigger *triggerWire `msgpack:"trigger,omitempty" json:"trigger,omitempty"`
}

type limitWire struct {
	TIF string `msgpack:"tif" json:"tif"`
}

type triggerWire struct {
	IsMarket  bool   `msgpack:"isMarket" json:"isMarket"`
	TriggerPx string `msgpack:"triggerPx" json:"triggerPx"`
	TPSL      string `msgpack:"tpsl" json:"tpsl"`
}

type orderAction struct {
	Type     string      `msgpack:"type" json:"type"`
	Orders   []orderWire `msgpack:"orders" json:"orders"`
	Grouping string      `msgpack:"grouping" json:"grouping"`
}

type updateLeverageAction struct {
	Type     string `msgpack:"type" json:"type"`
	Asset    int    `msgpack:"asset" json:"asset"`
	IsCross  bool   `msgpack:"isCross" json:"isCross"`
	Leverage int    `msgpack:"leverage" json:"leverage"`
}

type cancelWire struct {
	Asset int   `msgpack:"a" json:"a"`
	OID   int64 `msgpack:"o" json:"o"`
}

type cancelAction struct {
	Type    string       `msgpack:"type" json:"type"`
	Cancels []cancelWire `msgpack:"cancels" json:"cancels"`
}

type exchangeRequest struct {
	Action       any              `json:"action"`
	Nonce        int64            `json:"nonce"`
	Signature    crypto.Signature `json:"signature"`
	VaultAddress *string          `json:"vaultAddress"`
}

// ---------------------------------------------------------------------------
// Handle implementation
// ---------------------------------------------------------------------------

// UpdateLeverage implements Handle.
func (h *RESTHandle) UpdateLeverage(ctx context.Context, coin string, leverage int, isCross bool) (ExchangeResponse, error) {
	asset, err := h.assetIndex(ctx, coin)
	if err != nil {
		return ExchangeResponse{}, err
	}
	return h.exchange(ctx, updateLeverageAction{
		Type:     "updateLeverage",
		Asset:    asset,
		IsCross:  isCross,
		Leverage: leverage,
	})
}

// PlaceOrder implements Handle.
func (h *RESTHandle) PlaceOrder(ctx context.Context, order OrderRequest) (ExchangeResponse, error) {
	asset, err := h.assetIndex(ctx, order.Coin)
	if err != nil {
		return ExchangeResponse{}, err
	}

	wire := orderWire{
		Asset:      asset,
		IsBuy:      order.IsBuy,
		LimitPx:    exchange.FormatDecimal(order.LimitPx),
		Size:       exchange.FormatDecimal(order.Size),
		ReduceOnly: order.ReduceOnly,
	}
	if order.Trigger != nil {
		wire.Type.Trigger = &triggerWire{
			IsMarket:  order.Trigger.IsMarket,
			TriggerPx: exchange.FormatDecimal(order.Trigger.TriggerPx),
			TPSL:      order.Trigger.TPSL,
		}
	} else {
		wire.Type.Limit = &limitWire{TIF: order.TIF}
	}

	return h.exchange(ctx, orderAction{Type: "order", Orders: []orderWire{wire}, Grouping: "na"})
}

// Cancel implements Handle.
func (h *RESTHandle) Cancel(ctx context.Context, coin string, oid int64) (ExchangeResponse, error) {
	asset, err := h.assetIndex(ctx, coin)
	if err != nil {
		return ExchangeResponse{}, err
	}
	return h.exchange(ctx, cancelAction{Type: "cancel", Cancels: []cancelWire{{Asset: asset, OID: oid}}})
}

// UserState implements Handle.
func (h *RESTHandle) UserState(ctx context.Context) (UserState, error) {
	var out UserState
	err := h.info(ctx, map[string]any{"type": "clearinghouseState", "user": h.Address()}, &out)
	return out, err
}

// L2Book implements Handle.
func (h *RESTHandle) L2Book(ctx context.Context, coin string) (L2Book, error) {
	var out L2Book
	err := h.info(ctx, map[string]any{"type": "l2Book", "coin": coin}, &out)
	return out, err
}

// OpenOrders implements Handle.
func (h *RESTHandle) OpenOrders(ctx context.Context) ([]OpenOrder, error) {
	var out []OpenOrder
	err := h.info(ctx, map[string]any{"type": "frontendOpenOrders", "user": h.Address()}, &out)
	return out, err
}

// AllMids returns the current mid price of every listed coin.
func (h *RESTHandle) AllMids(ctx context.Context) (map[string]float64, error) {
	var raw map[string]string
	if err := h.info(ctx, map[string]any{"type": "allMids"}, &raw); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(raw))
	for coin, px := range raw {
		out[coin] = parseFloat(px)
	}
	return out, nil
}

// assetIndex resolves a coin to its universe index, loading meta once.
func (h *RESTHandle) assetIndex(ctx context.Context, coin string) (int, error) {
	h.mu.Lock()
	assets := h.assets
	h.mu.Unlock()

	if assets == nil {
		var meta struct {
			Universe []struct {
				Name string `json:"name"`
			} `json:"universe"`
		}
		if err := h.info(ctx, map[string]any{"type": "meta"}, &meta); err != nil {
			return 0, fmt.Errorf("hyperliquid: load meta: %w", err)
		}
		assets = make(map[string]int, len(meta.Universe))
		for i, u := range meta.Universe {
			assets[u.Name] = i
		}
		h.mu.Lock()
		h.assets = assets
		h.mu.Unlock()
	}

	idx, ok := assets[coin]
	if !ok {
		return 0, fmt.Errorf("hyperliquid: unknown coin %q: %w", coin, domain.ErrNotFound)
	}
	return idx, nil
}

// nextNonce returns a strictly increasing millisecond nonce.
func (h *RESTHandle) nextNonce() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := time.Now().UnixMilli()
	if n <= h.lastNonce {
		n = h.lastNonce + 1
	}
	h.lastNonce = n
	return n
}

func (h *RESTHandle) exchange(ctx context.Context, action any) (ExchangeResponse, error) {
	nonce := h.nextNonce()
	sig, err := h.signer.SignL1Action(action, nonce, h.vault)
	if err != nil {
		return ExchangeResponse{}, fmt.Errorf("hyperliquid: %w: %v", domain.ErrSigningFailed, err)
	}

	body := exchangeRequest{Action: action, Nonce: nonce, Signature: sig}
	if h.vault != "" {
		v := h.vault
		body.VaultAddress = &v
	}

	respBody, err := h.doRequest(ctx, "/exchange", body)
	if err != nil {
		return ExchangeResponse{}, fmt.Errorf("hyperliquid: exchange: %w", err)
	}

	var out ExchangeResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return ExchangeResponse{}, fmt.Errorf("hyperliquid: decode exchange response: %w", err)
	}
	return out, nil
}

func (h *RESTHandle) info(ctx context.Context, body any, out any) error {
	respBody, err := h.doRequest(ctx, "/info", body)
	if err != nil {
		return fmt.Errorf("hyperliquid: info: %w", err)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("hyperliquid: decode info response: %w", err)
	}
	return nil
}

func (h *RESTHandle) doRequest(ctx context.Context, path string, body any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}
	return respBody, nil
}

// checkHTTPStatus maps non-2xx responses onto domain sentinel errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}

var _ Handle = (*RESTHandle)(nil)
