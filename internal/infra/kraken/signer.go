package kraken

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"time"

	"market_hub/internal/domain"
)

// signEndpoint is the fixed message template the private subscribe
// signature is computed over.
const signEndpoint = "v2/private/subscribe"

// Signer produces authentication headers for the private WebSocket.
type Signer struct {
	apiKey    string
	apiSecret string // base64-encoded secret as issued by the exchange
}

// NewSigner creates a new Signer instance
func NewSigner(apiKey, apiSecret string) *Signer {
	return &Signer{apiKey: apiKey, apiSecret: apiSecret}
}

// AuthHeaders generates the header set for a private connection attempt.
// The nonce is the current epoch milliseconds; a fresh signature is
// computed per attempt.
func (s *Signer) AuthHeaders() (http.Header, error) {
	nonce := fmt.Sprintf("%d", time.Now().UnixMilli())
	return s.headersForNonce(nonce)
}

// headersForNonce is split out so the signature can be verified against a
// fixed nonce.
func (s *Signer) headersForNonce(nonce string) (http.Header, error) {
	if s.apiKey == "" || s.apiSecret == "" {
		return nil, &domain.AuthError{Err: domain.ErrMissingCredentials}
	}

	secret, err := base64.StdEncoding.DecodeString(s.apiSecret)
	if err != nil {
		return nil, &domain.AuthError{Err: fmt.Errorf("secret is not valid base64: %w", err)}
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(signEndpoint + nonce))
	sign := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("API-Key", s.apiKey)
	h.Set("API-Sign", sign)
	h.Set("API-Nonce", nonce)
	return h, nil
}
