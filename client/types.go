package client

import (
	"encoding/json"
)

// Session is the subset of the Koinly session descriptor the exporter needs.
type Session struct {
	BaseCurrency string `json:"base_currency"`
}

// Currency identifies an asset by its ticker symbol.
type Currency struct {
	Symbol string `json:"symbol"`
}

// Amount is one leg of a transaction (sent, received or fee).
// The amount keeps the text the API sent.
type Amount struct {
	Amount   Number   `json:"amount"`
	Currency Currency `json:"currency"`
}

// Transaction is a single Koinly transaction as returned by /api/transactions.
// From, To and Fee are nil when the transaction has no such leg
// (a deposit has no From, a withdrawal has no To).
type Transaction struct {
	ID          json.RawMessage `json:"id,omitempty"` // string or number, never rendered
	Date        string          `json:"date"`
	Type        string          `json:"type"`
	Label       string          `json:"label,omitempty"`
	Description string          `json:"description"`
	TxHash      string          `json:"txhash"`
	NetValue    Number          `json:"net_value"`
	From        *Amount         `json:"from,omitempty"`
	To          *Amount         `json:"to,omitempty"`
	Fee         *Amount         `json:"fee,omitempty"`
}

// PageInfo is the pagination block of a transactions response.
type PageInfo struct {
	CurrentPage int `json:"current_page"`
	TotalPages  int `json:"total_pages"`
	TotalItems  int `json:"total_items"`
}

// PageMeta wraps PageInfo the way the API nests it (meta.page.total_pages).
type PageMeta struct {
	Page *PageInfo `json:"page"`
}

// Page is one fetched batch of transactions.
type Page struct {
	Number       int           `json:"number"`
	Transactions []Transaction `json:"transactions"`
	Meta         *PageMeta     `json:"meta,omitempty"`
}

// TotalPages returns the total page count reported by the API, or 0 when the
// response carried no pagination metadata.
func (p *Page) TotalPages() int {
	if p == nil || p.Meta == nil || p.Meta.Page == nil {
		return 0
	}
	return p.Meta.Page.TotalPages
}

// PageRequest describes a single page fetch.
// TotalPages is only used for progress logging; 0 means not known yet.
type PageRequest struct {
	Page       int
	PerPage    int
	TotalPages int
}
