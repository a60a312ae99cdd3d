package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Number is an amount exactly as the API sent it. JSON strings keep their
// text ("1.50000000" stays "1.50000000"), bare JSON numbers keep their
// literal, and null decodes to the empty Number. Nothing is validated while
// decoding; call Decimal when arithmetic is needed.
type Number string

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*n = ""
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*n = Number(s)
	default:
		*n = Number(data)
	}
	return nil
}

// String returns the wire text.
func (n Number) String() string {
	return string(n)
}

// Valid reports whether the API sent a non-empty value.
func (n Number) Valid() bool {
	return n != ""
}

// Decimal parses the wire text.
func (n Number) Decimal() (decimal.Decimal, error) {
	d, err := decimal.NewFromString(string(n))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q: %w", string(n), err)
	}
	return d, nil
}

// SumNetValue adds up the net value of every transaction that has a
// parseable one and reports how many were skipped.
func SumNetValue(transactions []Transaction) (total decimal.Decimal, skipped int) {
	total = decimal.Zero
	for _, t := range transactions {
		if !t.NetValue.Valid() {
			skipped++
			continue
		}
		d, err := t.NetValue.Decimal()
		if err != nil {
			skipped++
			continue
		}
		total = total.Add(d)
	}
	return total, skipped
}
