package domain

import (
	"context"

	"github.com/google/uuid"
)

// LeadRepository defines the interface for lead persistence.
type LeadRepository interface {
	// GetOrCreateByPhone returns the lead for phone, creating it with
	// first-contact defaults when none exists. The bool reports creation.
	GetOrCreateByPhone(ctx context.Context, phone string) (*Lead, bool, error)

	// GetByPhone retrieves a lead by phone number.
	GetByPhone(ctx context.Context, phone string) (*Lead, error)

	// GetByID retrieves a lead by ID.
	GetByID(ctx context.Context, id uuid.UUID) (*Lead, error)

	// Update saves every column except conversation_history (last write wins).
	Update(ctx context.Context, lead *Lead) error

	// AppendMessage atomically appends one entry to conversation_history.
	AppendMessage(ctx context.Context, leadID uuid.UUID, entry ConversationEntry) error

	// ListFollowupCandidates returns leads eligible for automatic follow-up,
	// oldest-silent first.
	ListFollowupCandidates(ctx context.Context, q FollowupQuery) ([]*Lead, error)
}
