package adapters

import (
	"context"
	"errors"
	"time"

	"github.com/Rajchodisetti/vote-trader/internal/observ"
)

// primaryShare is the part of the caller's remaining deadline the primary
// may spend, leaving the rest for the synthetic substitute.
const primaryShare = 0.8

// FallbackSource serves Primary and substitutes a synthetic continuation
// whenever it fails. Next only errors when ctx is done.
type FallbackSource struct {
	Primary   PriceSource
	Synthetic *SyntheticSource
	// PrimaryTimeout caps one primary attempt. Zero leaves only the share
	// of the caller's deadline.
	PrimaryTimeout time.Duration
}

func NewFallbackSource(primary PriceSource, synthetic *SyntheticSource) *FallbackSource {
	return &FallbackSource{Primary: primary, Synthetic: synthetic}
}

func (f *FallbackSource) Next(ctx context.Context) (Tick, error) {
	if f.Primary != nil {
		pctx, cancel := f.primaryContext(ctx)
		t, err := f.Primary.Next(pctx)
		cancel()
		if err == nil && t.Price > 0 {
			f.Synthetic.Reseed(t.Price)
			return t, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Tick{}, ctxErr
		}
		if err == nil {
			err = errors.New("non-positive price")
		}
		kind := "unknown"
		var pe *PriceError
		if errors.As(err, &pe) {
			kind = pe.Type
		}
		observ.IncCounter("price_fallbacks_total", map[string]string{"type": kind})
		observ.Warn("price_fallback", map[string]any{"error": err.Error(), "type": kind, "last": f.Synthetic.Last()})
	}

	return f.Synthetic.Next(ctx)
}

func (f *FallbackSource) primaryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	budget := f.PrimaryTimeout
	if dl, ok := ctx.Deadline(); ok {
		share := time.Duration(float64(time.Until(dl)) * primaryShare)
		if budget <= 0 || share < budget {
			budget = share
		}
	}
	if budget <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, budget)
}
