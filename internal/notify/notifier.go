// Package notify defines the outbound messaging boundary of the core
// pipeline. The actual chat transport (how a reply physically reaches the
// user) lives outside this module; the core only produces reply strings and
// administrator alerts through the Notifier interface.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Notifier delivers asynchronous outbound messages. Synchronous replies to
// webhook calls are returned in the HTTP response instead and do not pass
// through here.
type Notifier interface {
	// SendReply delivers text to the given user.
	SendReply(ctx context.Context, userID, text string) error

	// AlertAdmin delivers text to the configured administrator. Used for
	// exhausted orders, session invalidation, and quota breaches.
	AlertAdmin(ctx context.Context, text string) error
}

// LogNotifier writes outbound messages to the structured log. It is the
// default wiring when no transport sender is configured, and the test double
// in most suites.
type LogNotifier struct {
	Log     zerolog.Logger
	AdminID string
}

// SendReply implements Notifier.
func (n *LogNotifier) SendReply(ctx context.Context, userID, text string) error {
	n.Log.Info().Str("user_id", userID).Str("text", text).Msg("outbound reply")
	return nil
}

// AlertAdmin implements Notifier.
func (n *LogNotifier) AlertAdmin(ctx context.Context, text string) error {
	n.Log.Warn().Str("admin_id", n.AdminID).Str("text", text).Msg("admin alert")
	return nil
}
