package clock

import (
	"context"
	"time"
)

type Clock interface {
	Now(ctx context.Context) time.Time
}

// Fixed always reports the same instant. Useful for deterministic tests.
type Fixed time.Time

func (f Fixed) Now(context.Context) time.Time { return time.Time(f).UTC() }
