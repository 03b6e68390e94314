package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/perpbot/internal/crypto"
	"github.com/alanyoungcy/perpbot/internal/domain"
)

// RESTConfig configures the REST handle.
type RESTConfig struct {
	BaseURL    string // e.g. "https://fapi.binance.com"
	RecvWindow time.Duration
	Timeout    time.Duration
}

// RESTHandle signs and sends USD-M futures REST requests.
type RESTHandle struct {
	baseURL    string
	recvWindow time.Duration
	auth       *crypto.HMACAuth
	httpClient *http.Client
	logger     *slog.Logger
}

// NewRESTHandle creates a REST handle authenticated by auth.
func NewRESTHandle(cfg RESTConfig, auth *crypto.HMACAuth, logger *slog.Logger) *RESTHandle {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	base := cfg.BaseURL
	if base == "" {
		base = "https://fapi.binance.com"
	}
	return &RESTHandle{
		baseURL:    strings.TrimRight(base, "/"),
		recvWindow: cfg.RecvWindow,
		auth:       auth,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With(slog.String("component", "binance_rest")),
	}
}

// SetLeverage implements Handle.
func (h *RESTHandle) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("leverage", strconv.Itoa(leverage))
	return h.signed(ctx, http.MethodPost, "/fapi/v1/leverage", params, nil)
}

// CreateOrder implements Handle.
func (h *RESTHandle) CreateOrder(ctx context.Context, p OrderParams) (Order, error) {
	var out Order
	err := h.signed(ctx, http.MethodPost, "/fapi/v1/order", p.Values(), &out)
	return out, err
}

// OpenOrders implements Handle.
func (h *RESTHandle) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	var out []Order
	err := h.signed(ctx, http.MethodGet, "/fapi/v1/openOrders", params, &out)
	return out, err
}

// CancelOrder implements Handle.
func (h *RESTHandle) CancelOrder(ctx context.Context, symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))
	return h.signed(ctx, http.MethodDelete, "/fapi/v1/order", params, nil)
}

// PositionRisk implements Handle.
func (h *RESTHandle) PositionRisk(ctx context.Context, symbol string) ([]PositionRisk, error) {
	params := url.Values{}
	if symbol != "" {
		params.Set("symbol", symbol)
	}
	var out []PositionRisk
	err := h.signed(ctx, http.MethodGet, "/fapi/v2/positionRisk", params, &out)
	return out, err
}

// TickerPrice returns the last traded price of symbol. The endpoint is
// public and unsigned.
func (h *RESTHandle) TickerPrice(ctx context.Context, symbol string) (float64, error) {
	var out struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := h.do(ctx, http.MethodGet, "/fapi/v1/ticker/price?symbol="+url.QueryEscape(symbol), nil, &out); err != nil {
		return 0, err
	}
	return parseFloat(out.Price), nil
}

func (h *RESTHandle) signed(ctx context.Context, method, path string, params url.Values, out any) error {
	query := h.auth.SignQuery(params, h.recvWindow)
	return h.do(ctx, method, path+"?"+query, h.auth.Headers(), out)
}

func (h *RESTHandle) do(ctx context.Context, method, pathAndQuery string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, h.baseURL+pathAndQuery, nil)
	if err != nil {
		return fmt.Errorf("binance: create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("binance: read response: %w", err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode %s: %w", req.URL.Path, err)
	}
	return nil
}

// checkHTTPStatus decodes a failure body into *APIError and attaches the
// matching domain sentinel.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	apiErr := &APIError{HTTPStatus: statusCode}
	if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Msg == "" {
		apiErr.Msg = strings.TrimSpace(string(body))
	}

	var sentinel error
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = domain.ErrUnauthorized
	case http.StatusTooManyRequests, http.StatusTeapot:
		sentinel = domain.ErrRateLimited
	case http.StatusNotFound:
		sentinel = domain.ErrNotFound
	}
	if sentinel == nil {
		return apiErr
	}
	return fmt.Errorf("%w: %w", sentinel, apiErr)
}

var _ Handle = (*RESTHandle)(nil)
