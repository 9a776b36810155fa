package transport

import (
	"context"

	"golang.org/x/time/rate"

	"emsctl/internal/ems"
)

type rateLimited struct {
	ems.Channel
	lim *rate.Limiter
}

// RateLimited paces Send on ch to perSec payloads per second. The wait
// happens inside Send, so callers still observe one blocking call per payload.
func RateLimited(ch ems.Channel, perSec float64, burst int) ems.Channel {
	if ch == nil || perSec <= 0 {
		return ch
	}
	if burst < 1 {
		burst = 1
	}
	return &rateLimited{Channel: ch, lim: rate.NewLimiter(rate.Limit(perSec), burst)}
}

func (r *rateLimited) Send(ctx context.Context, payload string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.lim.Wait(ctx); err != nil {
		return err
	}
	return r.Channel.Send(ctx, payload)
}

func (r *rateLimited) State() ems.State { return ems.StateOf(r.Channel) }
