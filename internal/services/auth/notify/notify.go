// Package notify pushes short account-activity messages to a user's
// messaging channel.
package notify

import "context"

// Notifier delivers one message to a chat handle. Delivery is best-effort;
// callers log failures and continue.
type Notifier interface {
	Send(ctx context.Context, chatID, text string) error
}
