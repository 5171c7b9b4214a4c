// Package polymarket provides REST and WebSocket clients for the Polymarket
// CLOB and Gamma APIs: order placement, API key derivation, market metadata
// lookup, and the authenticated user trade feed.
package polymarket

import (
	"encoding/json"
	"strings"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success     bool   `json:"success"`
	ErrorMsg    string `json:"errorMsg,omitempty"`
	OrderID     string `json:"orderID,omitempty"`
	Status      string `json:"status,omitempty"`
	TransactID  string `json:"transactID,omitempty"`
	ShouldRetry bool   `json:"shouldRetry,omitempty"`
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket is the subset of the Gamma API market response the replicator
// needs: identity, lifecycle state, and the CLOB token binding.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"conditionId"`
	Slug          string   `json:"slug"`
	ActiveFromAPI flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed        bool     `json:"closed"`
	NegRisk       bool     `json:"negRisk"`
	ClobTokenIDs  string   `json:"clobTokenIds"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
}

// Market is the normalized market metadata used by the ingest pipeline.
type Market struct {
	ID          string
	ConditionID string
	Question    string
	Active      bool
	Closed      bool
	NegRisk     bool
	TokenIDs    []string
}

// ToMarket converts a Gamma APIMarket to a Market, decoding the JSON-encoded
// token ID list.
func (m *APIMarket) ToMarket() Market {
	out := Market{
		ID:          m.ID,
		ConditionID: m.ConditionID,
		Question:    m.Question,
		Active:      bool(m.ActiveFromAPI),
		Closed:      m.Closed,
		NegRisk:     m.NegRisk,
	}
	if m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil {
			out.TokenIDs = ids
		}
	}
	return out
}

// --------------------------------------------------------------------------
// WebSocket DTOs (user channel)
// --------------------------------------------------------------------------

// WSAuth carries the API credentials sent with a user-channel subscription.
type WSAuth struct {
	APIKey     string `json:"apiKey"`
	Secret     string `json:"secret"`
	Passphrase string `json:"passphrase"`
}

// WSSubscribe is the subscription payload sent after connecting to the
// user channel.
type WSSubscribe struct {
	Auth    WSAuth   `json:"auth"`
	Type    string   `json:"type"` // "user"
	Markets []string `json:"markets,omitempty"`
}

// WSTradeMessage is a trade event delivered on the user channel. Amount
// fields are decimal strings in venue-native units.
type WSTradeMessage struct {
	EventType  string `json:"event_type"` // "trade"
	ID         string `json:"id"`
	Market     string `json:"market"` // condition id
	AssetID    string `json:"asset_id"`
	Side       string `json:"side"` // "BUY" or "SELL"
	Price      string `json:"price"`
	Size       string `json:"size"`
	Status     string `json:"status"`
	Maker      string `json:"maker_address"`
	Taker      string `json:"taker_order_id"`
	Owner      string `json:"owner"`
	MatchTime  string `json:"match_time"` // unix seconds, decimal string
	Timestamp  string `json:"timestamp"`
	TxHash     string `json:"transaction_hash"`
	TradeOwner string `json:"trade_owner"`
}
