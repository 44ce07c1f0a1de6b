package pip

import (
	"context"
	"fmt"
	"time"

	"github.com/aspen-pdp/aspen/value"
)

// ClockFinder implements the "time.now" attribute: it emits the current UTC
// time as an RFC 3339 string immediately and then on every tick. The tick
// interval in seconds may be passed as the single optional argument
// (default one second).
func ClockFinder() AttributeFinder {
	return func(ctx context.Context, args ...value.Val) (Stream, error) {
		interval := time.Second
		if len(args) > 1 {
			return nil, fmt.Errorf("time.now: expected at most one argument, got %d", len(args))
		}
		if len(args) == 1 {
			secs, err := args[0].NumberVal()
			if err != nil || secs <= 0 {
				return nil, fmt.Errorf("time.now: interval must be a positive number of seconds")
			}
			interval = time.Duration(secs * float64(time.Second))
		}

		s := NewPushStream(1)
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			if !s.Push(now()) {
				return
			}
			for {
				select {
				case <-ctx.Done():
					return
				case <-s.Done():
					return
				case <-ticker.C:
					if !s.Push(now()) {
						return
					}
				}
			}
		}()
		return s, nil
	}
}

func now() value.Val {
	return value.String(time.Now().UTC().Format(time.RFC3339))
}
