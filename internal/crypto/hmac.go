package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strconv"
	"time"
)

// HMACAuth holds API credentials for exchanges that sign the request query
// string with HMAC-SHA256 (Binance USD-M futures).
type HMACAuth struct {
	Key    string // API key, sent as a header
	Secret string // API secret, used as the HMAC key
}

// SignQuery appends timestamp (and recvWindow when > 0) to params, signs the
// encoded query and returns the final query string including signature.
func (h *HMACAuth) SignQuery(params url.Values, recvWindow time.Duration) string {
	return h.SignQueryAt(params, recvWindow, time.Now().UnixMilli())
}

// SignQueryAt is like SignQuery but lets the caller supply the millisecond
// timestamp (useful for deterministic testing).
func (h *HMACAuth) SignQueryAt(params url.Values, recvWindow time.Duration, unixMillis int64) string {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(unixMillis, 10))
	if recvWindow > 0 {
		params.Set("recvWindow", strconv.FormatInt(recvWindow.Milliseconds(), 10))
	}

	query := params.Encode()
	return query + "&signature=" + hmacSHA256Hex([]byte(h.Secret), query)
}

// Headers returns the authentication headers for a signed request.
func (h *HMACAuth) Headers() map[string]string {
	return map[string]string{"X-MBX-APIKEY": h.Key}
}

// hmacSHA256Hex computes HMAC-SHA256 of message using key and returns the
// lowercase hex digest.
func hmacSHA256Hex(key []byte, message string) string {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// String returns a redacted representation suitable for logging.
func (h *HMACAuth) String() string {
	redact := func(s string) string {
		if len(s) <= 4 {
			return "****"
		}
		return s[:4] + "****"
	}
	return fmt.Sprintf("HMACAuth{key=%s, secret=%s}", redact(h.Key), redact(h.Secret))
}
