// Package goldsky provides a GraphQL client for the Goldsky subgraph
// indexer, which indexes on-chain order fill events emitted by the
// Polymarket CTF Exchange contract.
package goldsky

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Client is a GraphQL client for the Goldsky subgraph indexer.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new Goldsky GraphQL client.
//
// graphqlURL is the Goldsky subgraph endpoint, e.g.
// "https://api.goldsky.com/api/public/.../subgraphs/polymarket-orderbook-resync/gn".
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// OrderFill is one orderFilledEvent row from the subgraph. The event ID is
// "<txhash>-<logindex>", unique per fill, and the amount fields carry the
// raw on-chain fixed-point integers.
type OrderFill struct {
	ID                string
	TransactionHash   string
	OrderHash         string
	Timestamp         int64
	Maker             string
	MakerAssetID      string
	MakerAmountFilled *big.Int
	Taker             string
	TakerAssetID      string
	TakerAmountFilled *big.Int
	Fee               *big.Int
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchOrderFills queries on-chain order fill events from the subgraph where
// the given actor appears as maker or taker. It returns fills that occurred
// at or after the given timestamp, oldest first, limited by 'first'.
//
// actor may be empty, in which case fills for all actors are returned.
func (c *Client) FetchOrderFills(ctx context.Context, actor string, since time.Time, first int) ([]OrderFill, error) {
	sinceUnix := strconv.FormatInt(since.Unix(), 10)

	var query string
	variables := map[string]any{
		"since": sinceUnix,
		"first": first,
	}

	if actor != "" {
		// The subgraph stores addresses lowercased.
		variables["actor"] = strings.ToLower(actor)
		query = `
			query OrderFills($since: BigInt!, $first: Int!, $actor: Bytes!) {
				orderFilledEvents(
					first: $first
					orderBy: timestamp
					orderDirection: asc
					where: {
						timestamp_gte: $since
						or: [{ maker: $actor }, { taker: $actor }]
					}
				) {
					id
					transactionHash
					orderHash
					timestamp
					maker
					makerAssetId
					makerAmountFilled
					taker
					takerAssetId
					takerAmountFilled
					fee
				}
			}
		`
	} else {
		query = `
			query OrderFills($since: BigInt!, $first: Int!) {
				orderFilledEvents(
					first: $first
					orderBy: timestamp
					orderDirection: asc
					where: { timestamp_gte: $since }
				) {
					id
					transactionHash
					orderHash
					timestamp
					maker
					makerAssetId
					makerAmountFilled
					taker
					takerAssetId
					takerAmountFilled
					fee
				}
			}
		`
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("goldsky: fetch order fills: %w", err)
	}

	var result struct {
		OrderFilledEvents []struct {
			ID                string `json:"id"`
			TransactionHash   string `json:"transactionHash"`
			OrderHash         string `json:"orderHash"`
			Timestamp         string `json:"timestamp"`
			Maker             string `json:"maker"`
			MakerAssetID      string `json:"makerAssetId"`
			MakerAmountFilled string `json:"makerAmountFilled"`
			Taker             string `json:"taker"`
			TakerAssetID      string `json:"takerAssetId"`
			TakerAmountFilled string `json:"takerAmountFilled"`
			Fee               string `json:"fee"`
		} `json:"orderFilledEvents"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("goldsky: decode order fills: %w", err)
	}

	fills := make([]OrderFill, 0, len(result.OrderFilledEvents))
	for _, e := range result.OrderFilledEvents {
		ts, err := strconv.ParseInt(e.Timestamp, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("goldsky: event %s: bad timestamp %q", e.ID, e.Timestamp)
		}

		makerAmt, err := parseBigInt(e.MakerAmountFilled)
		if err != nil {
			return nil, fmt.Errorf("goldsky: event %s: bad makerAmountFilled %q", e.ID, e.MakerAmountFilled)
		}
		takerAmt, err := parseBigInt(e.TakerAmountFilled)
		if err != nil {
			return nil, fmt.Errorf("goldsky: event %s: bad takerAmountFilled %q", e.ID, e.TakerAmountFilled)
		}
		fee, err := parseBigInt(e.Fee)
		if err != nil {
			return nil, fmt.Errorf("goldsky: event %s: bad fee %q", e.ID, e.Fee)
		}

		fills = append(fills, OrderFill{
			ID:                e.ID,
			TransactionHash:   e.TransactionHash,
			OrderHash:         e.OrderHash,
			Timestamp:         ts,
			Maker:             e.Maker,
			MakerAssetID:      e.MakerAssetID,
			MakerAmountFilled: makerAmt,
			Taker:             e.Taker,
			TakerAssetID:      e.TakerAssetID,
			TakerAmountFilled: takerAmt,
			Fee:               fee,
		})
	}

	return fills, nil
}

// FetchLatestBlock returns the latest block number indexed by the subgraph.
// Useful for monitoring indexing lag.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("goldsky: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("goldsky: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func parseBigInt(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("not a base-10 integer")
	}
	return n, nil
}

// doQuery executes a GraphQL query against the Goldsky endpoint and returns
// the raw "data" field from the response.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}
