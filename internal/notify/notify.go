package notify

import (
	"context"

	"go.uber.org/multierr"
)

// Notifier delivers one alert message to a channel. Implementations must be
// safe for concurrent use; the alerter and the resend pass both call Send.
type Notifier interface {
	Send(ctx context.Context, title, text string) error
}

// Multi fans a message out to every configured channel. All channels are
// attempted; the combined error reports every failed one.
type Multi []Notifier

func (m Multi) Send(ctx context.Context, title, text string) error {
	var errs error
	for _, n := range m {
		if n == nil {
			continue
		}
		errs = multierr.Append(errs, n.Send(ctx, title, text))
	}
	return errs
}
