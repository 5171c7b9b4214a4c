package polymarket

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/polycopy/polycopy/internal/crypto"
	"github.com/polycopy/polycopy/internal/domain"
)

func newTestSigner(t *testing.T) *crypto.Signer {
	t.Helper()
	pk, err := ethcrypto.GenerateKey()
	require.NoError(t, err)
	signer, err := crypto.NewSigner(hex.EncodeToString(ethcrypto.FromECDSA(pk)), 137)
	require.NoError(t, err)
	return signer
}

func newTestClient(t *testing.T, baseURL string) *ClobClient {
	t.Helper()
	hmac := &crypto.HMACAuth{Key: "api-key", Secret: "c2VjcmV0", Passphrase: "pass"}
	return NewClobClient(baseURL, newTestSigner(t), hmac, "", 0)
}

func TestBuildOrderPayloadAmounts(t *testing.T) {
	c := newTestClient(t, "http://unused")

	tests := []struct {
		name      string
		side      domain.TradeSide
		wantMaker string
		wantTaker string
		wantSide  int
	}{
		// price 0.57, size 10: collateral 5_700_000, tokens 10_000_000.
		{"buy pays collateral", domain.TradeSideBuy, "5700000", "10000000", 0},
		{"sell pays tokens", domain.TradeSideSell, "10000000", "5700000", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, err := c.buildOrderPayload(domain.OrderRequest{
				TradeID: "t1", AssetID: "777", Side: tt.side, Price: 0.57, Size: 10,
			})
			require.NoError(t, err)
			require.Equal(t, tt.wantMaker, payload.MakerAmount)
			require.Equal(t, tt.wantTaker, payload.TakerAmount)
			require.Equal(t, tt.wantSide, payload.Side)
			require.Equal(t, "777", payload.TokenID)
			require.Equal(t, zeroAddress, payload.Taker)
		})
	}
}

func TestBuildOrderPayloadValidation(t *testing.T) {
	c := newTestClient(t, "http://unused")

	cases := []domain.OrderRequest{
		{AssetID: "777", Side: domain.TradeSideBuy, Price: 0, Size: 10},
		{AssetID: "777", Side: domain.TradeSideBuy, Price: 1.0, Size: 10},
		{AssetID: "777", Side: domain.TradeSideBuy, Price: 0.5, Size: 0},
		{AssetID: "777", Side: "hold", Price: 0.5, Size: 10},
	}
	for _, req := range cases {
		_, err := c.buildOrderPayload(req)
		require.Error(t, err)
	}
}

func TestBuildOrderPayloadDefaultsFunderToSigner(t *testing.T) {
	signer := newTestSigner(t)
	c := NewClobClient("http://unused", signer, nil, "", 0)

	payload, err := c.buildOrderPayload(domain.OrderRequest{
		AssetID: "777", Side: domain.TradeSideBuy, Price: 0.5, Size: 10,
	})
	require.NoError(t, err)
	require.Equal(t, signer.Address().Hex(), payload.Maker)
	require.Equal(t, signer.Address().Hex(), payload.Signer)
}

func TestPostOrderSuccess(t *testing.T) {
	var gotBody map[string]any
	var gotHeaders http.Header

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHeaders = r.Header.Clone()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Write([]byte(`{"success":true,"orderID":"0xorder1","status":"matched"}`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	conf, err := c.PostOrder(context.Background(), domain.OrderRequest{
		TradeID: "t1", AssetID: "777", Side: domain.TradeSideBuy, Price: 0.57, Size: 10,
	})
	require.NoError(t, err)
	require.Equal(t, "0xorder1", conf.OrderID)
	require.Equal(t, "matched", conf.Status)

	require.Equal(t, "api-key", gotBody["owner"], "owner field carries the API key")
	require.Equal(t, "FAK", gotBody["orderType"])
	order := gotBody["order"].(map[string]any)
	require.Equal(t, "BUY", order["side"])
	require.NotEmpty(t, order["signature"])

	for _, h := range []string{"Poly_address", "Poly_api_key", "Poly_timestamp", "Poly_passphrase", "Poly_signature"} {
		require.NotEmpty(t, gotHeaders.Get(h), h)
	}
}

func TestPostOrderRejectionClassification(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantCode domain.ExecErrorCode
		retryble bool
	}{
		{"insufficient balance", `{"success":false,"errorMsg":"not enough balance / allowance"}`, domain.ExecInsufficientFunds, false},
		{"below minimum", `{"success":false,"errorMsg":"order size lower than the minimum"}`, domain.ExecBelowMinimumSize, false},
		{"closed market", `{"success":false,"errorMsg":"market is closed"}`, domain.ExecInvalidMarket, false},
		{"venue hint retry", `{"success":false,"errorMsg":"internal matching error","shouldRetry":true}`, domain.ExecVenueUnavailable, true},
		{"unclassified", `{"success":false,"errorMsg":"order rejected"}`, domain.ExecRejected, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.Write([]byte(tt.response))
			}))
			defer srv.Close()

			c := newTestClient(t, srv.URL)
			_, err := c.PostOrder(context.Background(), domain.OrderRequest{
				TradeID: "t1", AssetID: "777", Side: domain.TradeSideBuy, Price: 0.57, Size: 10,
			})
			require.Error(t, err)
			ee, ok := domain.AsExecError(err)
			require.True(t, ok)
			require.Equal(t, tt.wantCode, ee.Code)
			require.Equal(t, tt.retryble, ee.Retryable)
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	tests := []struct {
		status   int
		wantCode domain.ExecErrorCode
	}{
		{http.StatusTooManyRequests, domain.ExecRateLimited},
		{http.StatusRequestTimeout, domain.ExecTimeout},
		{http.StatusGatewayTimeout, domain.ExecTimeout},
		{http.StatusInternalServerError, domain.ExecVenueUnavailable},
		{http.StatusBadGateway, domain.ExecVenueUnavailable},
		{http.StatusNotFound, domain.ExecInvalidMarket},
		{http.StatusUnauthorized, domain.ExecRejected},
		{http.StatusForbidden, domain.ExecRejected},
	}
	for _, tt := range tests {
		err := classifyHTTPStatus(tt.status, []byte("body"))
		require.Error(t, err)
		ee, ok := domain.AsExecError(err)
		require.True(t, ok)
		require.Equal(t, tt.wantCode, ee.Code, "status %d", tt.status)
	}

	require.NoError(t, classifyHTTPStatus(http.StatusOK, nil))
	require.NoError(t, classifyHTTPStatus(http.StatusCreated, nil))
}

func TestDeriveAPIKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/derive-api-key", r.URL.Path)
		require.NotEmpty(t, r.Header.Get("Poly_address"))
		require.NotEmpty(t, r.Header.Get("Poly_signature"))
		require.NotEmpty(t, r.Header.Get("Poly_timestamp"))
		require.Equal(t, "0", r.Header.Get("Poly_nonce"))
		w.Write([]byte(`{"apiKey":"derived-key","secret":"derived-secret","passphrase":"derived-pass"}`))
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, newTestSigner(t), nil, "", 0)
	require.False(t, c.HasCredentials())

	require.NoError(t, c.DeriveAPIKey(context.Background()))
	require.True(t, c.HasCredentials())
	require.Equal(t, "derived-key", c.Credentials().Key)
}
