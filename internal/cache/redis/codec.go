package redis

import (
	"encoding/json"

	"github.com/alanyoungcy/exitwatch/internal/domain"
)

func encodeQuote(q domain.Quote) ([]byte, error) {
	return json.Marshal(q)
}

// DecodeQuote parses a payload published on QuotesChannel.
func DecodeQuote(payload []byte) (domain.Quote, error) {
	var q domain.Quote
	err := json.Unmarshal(payload, &q)
	return q, err
}
