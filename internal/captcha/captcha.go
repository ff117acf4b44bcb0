// Package captcha verifies reCAPTCHA-style tokens server-side.
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/market-update/internal/httpx"
)

// DefaultVerifyURL is Google's reCAPTCHA verification endpoint.
const DefaultVerifyURL = "https://www.google.com/recaptcha/api/siteverify"

// Verifier posts tokens to the verification endpoint.
type Verifier struct {
	client    *httpx.Client
	verifyURL string
	secret    string
	logger    *zap.Logger
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	Hostname   string   `json:"hostname"`
	ErrorCodes []string `json:"error-codes"`
}

// New builds a Verifier. An empty verifyURL selects DefaultVerifyURL.
func New(client *httpx.Client, verifyURL, secret string, logger *zap.Logger) *Verifier {
	if verifyURL == "" {
		verifyURL = DefaultVerifyURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Verifier{client: client, verifyURL: verifyURL, secret: secret, logger: logger.Named("captcha")}
}

// Verify reports whether the token is valid. An empty token is rejected without a
// network call; transport failures and non-2xx replies are returned as errors.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(ctx, req)
	if err != nil {
		return false, fmt.Errorf("captcha verify: %w", err)
	}
	body, err := httpx.ReadBody(resp)
	if err != nil {
		return false, err
	}
	if err := httpx.CheckStatus(resp, body); err != nil {
		return false, fmt.Errorf("captcha verify: %w", err)
	}

	var out verifyResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return false, fmt.Errorf("decode captcha reply: %w", err)
	}
	if !out.Success {
		v.logger.Info("captcha rejected", zap.Strings("error_codes", out.ErrorCodes))
	}
	return out.Success, nil
}
