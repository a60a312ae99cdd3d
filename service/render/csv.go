// Package render turns exported transactions into the CSV layout Koinly's
// own import accepts.
package render

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/brojonat/koinly-export/client"
	"github.com/brojonat/koinly-export/service/metrics"
)

// Header is the fixed 12-column header of the export.
var Header = []string{
	"Date",
	"Sent Amount",
	"Sent Currency",
	"Received Amount",
	"Received Currency",
	"Fee Amount",
	"Fee Currency",
	"Net Worth Amount",
	"Net Worth Currency",
	"Label",
	"Description",
	"TxHash",
}

// Mode selects how fields are written.
type Mode int

const (
	// Quoted applies standard CSV quoting, so commas, quotes and newlines in
	// descriptions keep their column.
	Quoted Mode = iota
	// Raw joins fields with commas and nothing else. A description that
	// contains a comma shifts every column after it.
	Raw
)

func (m Mode) String() string {
	switch m {
	case Quoted:
		return "quoted"
	case Raw:
		return "raw"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode parses "quoted" or "raw".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "quoted":
		return Quoted, nil
	case "raw":
		return Raw, nil
	default:
		return 0, fmt.Errorf("unknown CSV mode %q (want quoted or raw)", s)
	}
}

// Renderer renders transactions to CSV.
type Renderer struct {
	mode    Mode
	metrics *metrics.Metrics
}

// NewRenderer creates a renderer. m may be nil.
func NewRenderer(mode Mode, m *metrics.Metrics) *Renderer {
	return &Renderer{mode: mode, metrics: m}
}

// Mode returns the renderer's mode.
func (r *Renderer) Mode() Mode {
	return r.mode
}

// Render writes the header and one row per transaction, in input order.
// The net worth currency column is baseCurrency on every row.
func (r *Renderer) Render(baseCurrency string, transactions []client.Transaction) ([]byte, error) {
	var buf bytes.Buffer

	switch r.mode {
	case Raw:
		lines := make([]string, 0, len(transactions)+1)
		lines = append(lines, strings.Join(Header, ","))
		for _, t := range transactions {
			lines = append(lines, strings.Join(Row(baseCurrency, t), ","))
		}
		buf.WriteString(strings.Join(lines, "\n"))
	case Quoted:
		w := csv.NewWriter(&buf)
		if err := w.Write(Header); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		for i, t := range transactions {
			if err := w.Write(Row(baseCurrency, t)); err != nil {
				return nil, fmt.Errorf("failed to write row %d: %w", i+1, err)
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, fmt.Errorf("failed to flush csv: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported CSV mode %v", r.mode)
	}

	if r.metrics != nil {
		r.metrics.RecordRowsRendered(len(transactions))
	}
	return buf.Bytes(), nil
}

// Row returns the 12 fields of one transaction. Amounts are written as the
// API sent them; missing legs and null values render as empty fields.
func Row(baseCurrency string, t client.Transaction) []string {
	sentAmount, sentCurrency := leg(t.From)
	receivedAmount, receivedCurrency := leg(t.To)
	feeAmount, feeCurrency := leg(t.Fee)

	return []string{
		t.Date,
		sentAmount,
		sentCurrency,
		receivedAmount,
		receivedCurrency,
		feeAmount,
		feeCurrency,
		t.NetValue.String(),
		baseCurrency,
		t.Type,
		t.Description,
		t.TxHash,
	}
}

func leg(a *client.Amount) (amount, currency string) {
	if a == nil {
		return "", ""
	}
	return a.Amount.String(), a.Currency.Symbol
}
