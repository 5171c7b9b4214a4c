package goldsky

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const fillsResponse = `{
	"data": {
		"orderFilledEvents": [
			{
				"id": "0xaaa-12",
				"transactionHash": "0xaaa",
				"orderHash": "0xbbb",
				"timestamp": "1700000000",
				"maker": "0xmaker",
				"makerAssetId": "0",
				"makerAmountFilled": "5700000",
				"taker": "0xtaker",
				"takerAssetId": "777",
				"takerAmountFilled": "10000000",
				"fee": "0"
			}
		]
	}
}`

func TestFetchOrderFills(t *testing.T) {
	var gotAuth string
	var gotReq graphqlRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(fillsResponse))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	fills, err := c.FetchOrderFills(context.Background(), "0xAbCd01", time.Unix(1_699_999_999, 0), 500)
	require.NoError(t, err)

	require.Equal(t, "Bearer test-key", gotAuth)
	require.Equal(t, "1699999999", gotReq.Variables["since"])
	require.Equal(t, float64(500), gotReq.Variables["first"])
	require.Equal(t, "0xabcd01", gotReq.Variables["actor"], "actor must be lowercased for the subgraph")
	require.Contains(t, gotReq.Query, "or: [{ maker: $actor }, { taker: $actor }]")

	require.Len(t, fills, 1)
	f := fills[0]
	require.Equal(t, "0xaaa-12", f.ID)
	require.Equal(t, int64(1_700_000_000), f.Timestamp)
	require.Equal(t, "0", f.MakerAssetID)
	require.Equal(t, int64(5_700_000), f.MakerAmountFilled.Int64())
	require.Equal(t, int64(10_000_000), f.TakerAmountFilled.Int64())
}

func TestFetchOrderFillsWithoutActor(t *testing.T) {
	var gotReq graphqlRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"data":{"orderFilledEvents":[]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	fills, err := c.FetchOrderFills(context.Background(), "", time.Unix(0, 0), 10)
	require.NoError(t, err)
	require.Empty(t, fills)
	require.NotContains(t, gotReq.Variables, "actor")
	require.NotContains(t, gotReq.Query, "$actor")
}

func TestFetchOrderFillsRejectsBadAmounts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":{"orderFilledEvents":[{
			"id": "0xbad-1", "timestamp": "1700000000",
			"makerAmountFilled": "not-a-number", "takerAmountFilled": "1", "fee": "0"
		}]}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.FetchOrderFills(context.Background(), "", time.Unix(0, 0), 10)
	require.ErrorContains(t, err, "bad makerAmountFilled")
}

func TestFetchOrderFillsGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"errors":[{"message":"rate limited"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	_, err := c.FetchOrderFills(context.Background(), "", time.Unix(0, 0), 10)
	require.ErrorContains(t, err, "rate limited")
}

func TestFetchLatestBlock(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"data":{"_meta":{"block":{"number":54321000}}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "")
	block, err := c.FetchLatestBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(54_321_000), block)
}
