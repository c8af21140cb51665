package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"alertresolver/internal/config"
	"alertresolver/internal/permanent"
)

// retrier repeats one transport attempt with the channel retry policy.
type retrier struct {
	channel string
	policy  config.RetryConfig
	logger  *slog.Logger
}

// do runs attempt until success, permanent failure, attempt limit, or context end.
// Params: context and attempt callback.
// Returns: nil on success or the last attempt error.
func (r retrier) do(ctx context.Context, attempt func(context.Context) error) error {
	if !r.policy.Enabled {
		return attempt(ctx)
	}

	tries := 0
	backoff := time.Duration(r.policy.InitialMS) * time.Millisecond
	maxBackoff := time.Duration(r.policy.MaxMS) * time.Millisecond
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		tries++
		err := attempt(ctx)
		if err == nil {
			if r.policy.LogEachAttempt && tries > 1 {
				r.logger.Info("channel send recovered after retries", "channel", r.channel, "attempt", tries)
			}
			return nil
		}
		if permanent.Is(err) {
			return err
		}
		if r.policy.LogEachAttempt {
			r.logger.Warn("channel send attempt failed", "channel", r.channel, "attempt", tries, "error", err.Error())
		}
		if r.policy.MaxAttempts > 0 && tries >= r.policy.MaxAttempts {
			return fmt.Errorf("channel %s failed after %d attempts: %w", r.channel, tries, err)
		}

		if timer == nil {
			timer = time.NewTimer(backoff)
		} else {
			timer.Reset(backoff)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("channel %s retry aborted: %w (last error: %v)", r.channel, ctx.Err(), err)
		case <-timer.C:
		}

		if strings.EqualFold(r.policy.Backoff, "exponential") {
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
		}
	}
}
