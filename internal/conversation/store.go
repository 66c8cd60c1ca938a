// Package conversation implements the per-session transcript store. It is the
// second persistence channel next to the activity log; either one failing
// must not break the other.
package conversation

import (
	"context"

	"github.com/strandlabs/strand/pkg/models"
)

// DefaultHistoryLimit bounds history retrieval when the caller passes no limit.
const DefaultHistoryLimit = 50

// Store persists the ordered transcript of a session.
//
// SaveMessage returns only after the row is durable. History retrieval is
// oldest-first; a limit selects the most-recent messages but preserves
// oldest-first order, because the model consumes them as a chat transcript.
// The most recent handoff row, when present, becomes the start of the usable
// transcript: everything before it is considered compressed away.
type Store interface {
	SaveMessage(ctx context.Context, msg *models.Message) error

	// GetConversationHistory returns up to limit most-recent messages in
	// oldest-first order, starting at the latest handoff if one exists.
	GetConversationHistory(ctx context.Context, sessionID string, limit int) ([]models.Message, error)

	// GetGenerationHistory returns messages produced at a specific generation,
	// oldest-first.
	GetGenerationHistory(ctx context.Context, sessionID string, generation models.Generation) ([]models.Message, error)

	// SearchConversations returns messages whose content matches query.
	SearchConversations(ctx context.Context, sessionID, query string, limit int) ([]models.Message, error)

	// SaveHandoff records that an agent compressed its context and handed off.
	SaveHandoff(ctx context.Context, sessionID string, generation models.Generation, compressedContext, reason string) error

	Close() error
}
