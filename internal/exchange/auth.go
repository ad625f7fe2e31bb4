package exchange

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// Auth signs REST requests with HMAC-SHA256, the scheme every venue in
// scope uses for authenticated trading endpoints: a query string is
// signed with the account's API secret and the signature appended as a
// parameter alongside a millisecond timestamp.
//
// Adapted from the teacher's Auth (internal/exchange/auth.go), keeping
// its L2 HMAC signing path and dropping the L1 EIP-712 wallet-signing
// path, which existed only to bootstrap API keys from an on-chain
// wallet — a concept this engine's venues (centralized exchanges) have
// no equivalent of.
type Auth struct {
	apiKey    string
	apiSecret []byte
}

// NewAuth builds an Auth from a venue's configured API key/secret pair.
func NewAuth(apiKey, apiSecret string) *Auth {
	return &Auth{apiKey: apiKey, apiSecret: []byte(apiSecret)}
}

// APIKey returns the key sent in the request header.
func (a *Auth) APIKey() string { return a.apiKey }

// Sign computes the HMAC-SHA256 signature over a query string, hex
// encoded as venues in scope expect.
func (a *Auth) Sign(queryString string) string {
	mac := hmac.New(sha256.New, a.apiSecret)
	mac.Write([]byte(queryString))
	return hex.EncodeToString(mac.Sum(nil))
}

// Timestamp returns the current time in epoch milliseconds, the unit
// every in-scope venue's signed-request timestamp parameter expects.
func Timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
