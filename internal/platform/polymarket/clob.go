package polymarket

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/polycopy/polycopy/internal/crypto"
	"github.com/polycopy/polycopy/internal/domain"
)

// zeroAddress is the open taker for public CLOB orders.
const zeroAddress = "0x0000000000000000000000000000000000000000"

// ClobClient is the REST client for the Polymarket CLOB (Central Limit
// Order Book) API. It builds, signs, and submits orders, and handles the
// API key derivation flow.
type ClobClient struct {
	baseURL    string
	httpClient *http.Client
	signer     *crypto.Signer
	hmacAuth   *crypto.HMACAuth

	// funder is the address holding the collateral: the proxy/Safe address
	// for signature types 1 and 2, the signer address for EOA.
	funder  string
	sigType int
}

// NewClobClient creates a new CLOB REST client.
//
// baseURL is the CLOB API root, e.g. "https://clob.polymarket.com".
// funder may be empty, in which case the signer address is used.
// hmac may be nil when credentials will be derived via DeriveAPIKey.
func NewClobClient(baseURL string, signer *crypto.Signer, hmac *crypto.HMACAuth, funder string, sigType int) *ClobClient {
	c := &ClobClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		signer:   signer,
		hmacAuth: hmac,
		funder:   funder,
		sigType:  sigType,
	}
	if c.funder == "" && signer != nil {
		c.funder = signer.Address().Hex()
	}
	return c
}

// HasCredentials reports whether the client holds HMAC API credentials.
func (c *ClobClient) HasCredentials() bool {
	return c.hmacAuth != nil && c.hmacAuth.Key != ""
}

// PostOrder builds a signed marketable limit order from req, submits it,
// and returns the venue confirmation. Failures are returned as typed
// execution errors so the caller can distinguish retryable conditions.
func (c *ClobClient) PostOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderConfirmation, error) {
	payload, err := c.buildOrderPayload(req)
	if err != nil {
		return domain.OrderConfirmation{}, fmt.Errorf("polymarket/clob: build order: %w", err)
	}

	sig, err := c.signer.SignOrder(payload)
	if err != nil {
		return domain.OrderConfirmation{}, fmt.Errorf("polymarket/clob: sign order: %w", err)
	}

	body := map[string]any{
		"order": map[string]any{
			"salt":          payload.Salt,
			"maker":         payload.Maker,
			"signer":        payload.Signer,
			"taker":         payload.Taker,
			"tokenID":       payload.TokenID,
			"makerAmount":   payload.MakerAmount,
			"takerAmount":   payload.TakerAmount,
			"expiration":    payload.Expiration,
			"nonce":         payload.Nonce,
			"feeRateBps":    payload.FeeRateBps,
			"side":          sideString(req.Side),
			"signatureType": payload.SignatureType,
			"signature":     sig,
		},
		"owner":     c.ownerKey(),
		"orderType": "FAK",
	}

	respBody, err := c.doAuthenticatedRequest(ctx, http.MethodPost, "/order", body)
	if err != nil {
		return domain.OrderConfirmation{}, fmt.Errorf("polymarket/clob: post order: %w", err)
	}

	var result APIOrderResult
	if err := json.Unmarshal(respBody, &result); err != nil {
		return domain.OrderConfirmation{}, fmt.Errorf("polymarket/clob: decode order result: %w", err)
	}

	if !result.Success {
		return domain.OrderConfirmation{}, fmt.Errorf("polymarket/clob: %w",
			classifyOrderError(result.ErrorMsg, result.ShouldRetry))
	}

	return domain.OrderConfirmation{
		OrderID: result.OrderID,
		Status:  result.Status,
	}, nil
}

// DeriveAPIKey performs the CLOB auth flow to obtain an HMAC API key. It
// signs a ClobAuth EIP-712 message and sends it with L1 headers to the
// derive-api-key endpoint. Per Polymarket docs, L1 requires POLY_ADDRESS,
// POLY_SIGNATURE, POLY_TIMESTAMP, POLY_NONCE. On success it populates the
// client's hmacAuth field.
func (c *ClobClient) DeriveAPIKey(ctx context.Context) error {
	address := c.signer.Address().Hex()
	timestamp := time.Now().Unix()
	nonce := int64(0)

	sig, err := c.signer.SignAuthMessage(address, timestamp, nonce)
	if err != nil {
		return fmt.Errorf("polymarket/clob: sign auth message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/auth/derive-api-key", nil)
	if err != nil {
		return fmt.Errorf("polymarket/clob: create auth request: %w", err)
	}
	req.Header.Set("POLY_ADDRESS", address)
	req.Header.Set("POLY_SIGNATURE", sig)
	req.Header.Set("POLY_TIMESTAMP", strconv.FormatInt(timestamp, 10))
	req.Header.Set("POLY_NONCE", strconv.FormatInt(nonce, 10))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("polymarket/clob: auth request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("polymarket/clob: read auth response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("polymarket/clob: auth failed (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var authResp struct {
		APIKey     string `json:"apiKey"`
		Secret     string `json:"secret"`
		Passphrase string `json:"passphrase"`
	}
	if err := json.Unmarshal(respBody, &authResp); err != nil {
		return fmt.Errorf("polymarket/clob: decode auth response: %w", err)
	}

	c.hmacAuth = &crypto.HMACAuth{
		Key:        authResp.APIKey,
		Secret:     authResp.Secret,
		Passphrase: authResp.Passphrase,
	}

	return nil
}

// Credentials returns the active HMAC credentials, nil if none are set.
func (c *ClobClient) Credentials() *crypto.HMACAuth {
	return c.hmacAuth
}

// --------------------------------------------------------------------------
// Order construction
// --------------------------------------------------------------------------

// buildOrderPayload converts an OrderRequest into the EIP-712 order struct.
// Amounts are fixed-point 1e6 integers: for a buy the maker amount is the
// collateral spent and the taker amount the tokens received, reversed for a
// sell.
func (c *ClobClient) buildOrderPayload(req domain.OrderRequest) (crypto.OrderPayload, error) {
	if req.Price <= 0 || req.Price >= 1 {
		return crypto.OrderPayload{}, fmt.Errorf("price %g out of range (0, 1)", req.Price)
	}
	if req.Size <= 0 {
		return crypto.OrderPayload{}, fmt.Errorf("size %g must be positive", req.Size)
	}

	collateral := int64(math.Round(req.Price * req.Size * 1e6))
	tokens := int64(math.Round(req.Size * 1e6))

	var makerAmt, takerAmt int64
	var side int
	switch req.Side {
	case domain.TradeSideBuy:
		makerAmt, takerAmt = collateral, tokens
		side = 0
	case domain.TradeSideSell:
		makerAmt, takerAmt = tokens, collateral
		side = 1
	default:
		return crypto.OrderPayload{}, fmt.Errorf("unknown side %q", req.Side)
	}

	salt, err := newSalt()
	if err != nil {
		return crypto.OrderPayload{}, err
	}

	signerAddr := c.signer.Address().Hex()

	return crypto.OrderPayload{
		Salt:          salt,
		Maker:         c.funder,
		Signer:        signerAddr,
		Taker:         zeroAddress,
		TokenID:       req.AssetID,
		MakerAmount:   strconv.FormatInt(makerAmt, 10),
		TakerAmount:   strconv.FormatInt(takerAmt, 10),
		Expiration:    "0",
		Nonce:         "0",
		FeeRateBps:    "0",
		Side:          side,
		SignatureType: c.sigType,
	}, nil
}

// newSalt returns a random decimal salt for order uniqueness.
func newSalt() (string, error) {
	max := new(big.Int).Lsh(big.NewInt(1), 60)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return n.String(), nil
}

func sideString(s domain.TradeSide) string {
	if s == domain.TradeSideSell {
		return "SELL"
	}
	return "BUY"
}

// ownerKey returns the order owner field, which the CLOB API expects to be
// the API key.
func (c *ClobClient) ownerKey() string {
	if c.hmacAuth != nil {
		return c.hmacAuth.Key
	}
	return ""
}

// --------------------------------------------------------------------------
// Transport and error classification
// --------------------------------------------------------------------------

// doAuthenticatedRequest builds, signs (HMAC), sends, and reads an HTTP
// request against the CLOB API. It returns the raw response body.
func (c *ClobClient) doAuthenticatedRequest(ctx context.Context, method, path string, body any) ([]byte, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		bodyStr = string(jsonBody)
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.hmacAuth != nil {
		address := c.signer.Address().Hex()
		headers := c.hmacAuth.L2Headers(address, method, path, bodyStr)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.NewExecError(domain.ExecTimeout, err.Error())
		}
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := classifyHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	return respBody, nil
}

// classifyHTTPStatus maps non-2xx status codes to typed execution errors.
func classifyHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	msg := fmt.Sprintf("HTTP %d: %s", statusCode, string(body))
	switch {
	case statusCode == http.StatusTooManyRequests:
		return domain.NewExecError(domain.ExecRateLimited, msg)
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return domain.NewExecError(domain.ExecTimeout, msg)
	case statusCode >= 500:
		return domain.NewExecError(domain.ExecVenueUnavailable, msg)
	case statusCode == http.StatusNotFound:
		return domain.NewExecError(domain.ExecInvalidMarket, msg)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return domain.NewExecError(domain.ExecRejected, msg)
	default:
		return classifyOrderError(string(body), false)
	}
}

// classifyOrderError inspects a CLOB rejection message and maps it to a
// typed execution error. The venue's shouldRetry hint promotes otherwise
// unclassified rejections to retryable.
func classifyOrderError(errorMsg string, shouldRetry bool) error {
	lower := bytes.ToLower([]byte(errorMsg))
	has := func(sub string) bool { return bytes.Contains(lower, []byte(sub)) }

	switch {
	case has("not enough balance") || has("insufficient"):
		return domain.NewExecError(domain.ExecInsufficientFunds, errorMsg)
	case has("minimum") || has("min size") || has("lower than the minimum"):
		return domain.NewExecError(domain.ExecBelowMinimumSize, errorMsg)
	case has("market") && (has("closed") || has("paused") || has("resolved") || has("not found") || has("invalid")):
		return domain.NewExecError(domain.ExecInvalidMarket, errorMsg)
	case shouldRetry:
		return domain.NewExecError(domain.ExecVenueUnavailable, errorMsg)
	default:
		return domain.NewExecError(domain.ExecRejected, errorMsg)
	}
}
