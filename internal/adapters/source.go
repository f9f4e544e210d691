package adapters

import (
	"context"
	"fmt"
	"time"
)

// Tick is one observed price.
type Tick struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "binance"|"synthetic"|...
}

// PriceSource yields the next price for one symbol. Implementations must
// never return a non-positive price without an error.
type PriceSource interface {
	Next(ctx context.Context) (Tick, error)
}

// PriceError classifies a failed fetch.
type PriceError struct {
	Type    string // "network", "rate_limit", "provider_error", "bad_price"
	Symbol  string
	Message string
	Cause   error
}

func (e *PriceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error for %s: %s (%v)", e.Type, e.Symbol, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Symbol, e.Message)
}

func (e *PriceError) Unwrap() error { return e.Cause }

func NewNetworkError(symbol, message string, cause error) *PriceError {
	return &PriceError{Type: "network", Symbol: symbol, Message: message, Cause: cause}
}

func NewRateLimitError(symbol, message string, cause error) *PriceError {
	return &PriceError{Type: "rate_limit", Symbol: symbol, Message: message, Cause: cause}
}

func NewProviderError(symbol, message string, cause error) *PriceError {
	return &PriceError{Type: "provider_error", Symbol: symbol, Message: message, Cause: cause}
}

func NewBadPriceError(symbol, message string) *PriceError {
	return &PriceError{Type: "bad_price", Symbol: symbol, Message: message}
}
