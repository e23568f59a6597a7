package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/jkindrix/plumbot/internal/clock"
	"github.com/jkindrix/plumbot/internal/domain"
	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

// MemoryLeadRepository is an in-process domain.LeadRepository. It backs the
// "memory" database driver and the tests of every package above this one.
// Callers always receive copies, so mutating a returned lead has no effect
// until Update is called.
type MemoryLeadRepository struct {
	mu      sync.RWMutex
	byID    map[uuid.UUID]*domain.Lead
	byPhone map[string]uuid.UUID
	clock   clock.Clock
}

// NewMemoryLeadRepository creates an empty in-memory repository.
func NewMemoryLeadRepository(clk clock.Clock) *MemoryLeadRepository {
	return &MemoryLeadRepository{
		byID:    make(map[uuid.UUID]*domain.Lead),
		byPhone: make(map[string]uuid.UUID),
		clock:   clock.OrDefault(clk),
	}
}

// GetOrCreateByPhone returns the lead for phone, creating it when absent.
func (r *MemoryLeadRepository) GetOrCreateByPhone(_ context.Context, phone string) (*domain.Lead, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.byPhone[phone]; ok {
		return cloneLead(r.byID[id]), false, nil
	}
	lead := domain.NewLead(phone, r.clock.Now())
	r.byID[lead.ID] = lead
	r.byPhone[phone] = lead.ID
	return cloneLead(lead), true, nil
}

// GetByPhone retrieves a lead by phone number.
func (r *MemoryLeadRepository) GetByPhone(_ context.Context, phone string) (*domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byPhone[phone]
	if !ok {
		return nil, apperrors.NotFound("lead")
	}
	return cloneLead(r.byID[id]), nil
}

// GetByID retrieves a lead by ID.
func (r *MemoryLeadRepository) GetByID(_ context.Context, id uuid.UUID) (*domain.Lead, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lead, ok := r.byID[id]
	if !ok {
		return nil, apperrors.NotFound("lead")
	}
	return cloneLead(lead), nil
}

// Update saves everything except the conversation history.
func (r *MemoryLeadRepository) Update(_ context.Context, lead *domain.Lead) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[lead.ID]
	if !ok {
		return apperrors.NotFound("lead")
	}
	lead.UpdatedAt = r.clock.Now()

	updated := cloneLead(lead)
	updated.PhoneNumber = stored.PhoneNumber
	updated.CreatedAt = stored.CreatedAt
	updated.ConversationHistory = stored.ConversationHistory
	r.byID[lead.ID] = updated
	return nil
}

// AppendMessage appends one entry to the stored history.
func (r *MemoryLeadRepository) AppendMessage(_ context.Context, leadID uuid.UUID, entry domain.ConversationEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.byID[leadID]
	if !ok {
		return apperrors.NotFound("lead")
	}
	stored.ConversationHistory = append(stored.ConversationHistory, entry)
	stored.UpdatedAt = r.clock.Now()
	return nil
}

// ListFollowupCandidates filters with domain.Lead.IsFollowupCandidate and
// orders oldest-silent first, never-responded leads leading.
func (r *MemoryLeadRepository) ListFollowupCandidates(_ context.Context, q domain.FollowupQuery) ([]*domain.Lead, error) {
	r.mu.RLock()
	var leads []*domain.Lead
	for _, lead := range r.byID {
		if lead.IsFollowupCandidate(q) {
			leads = append(leads, cloneLead(lead))
		}
	}
	r.mu.RUnlock()

	sort.Slice(leads, func(i, j int) bool {
		a, b := leads[i].LastCustomerResponse, leads[j].LastCustomerResponse
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return leads[i].CreatedAt.Before(leads[j].CreatedAt)
	})

	if q.Limit > 0 && len(leads) > q.Limit {
		leads = leads[:q.Limit]
	}
	return leads, nil
}

// Put stores a lead as-is, history included. Used to seed fixtures.
func (r *MemoryLeadRepository) Put(lead *domain.Lead) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[lead.ID] = cloneLead(lead)
	r.byPhone[lead.PhoneNumber] = lead.ID
}

// cloneLead copies the lead and its history slice. Pointer fields are shared,
// which is safe because domain methods replace pointers rather than writing
// through them.
func cloneLead(l *domain.Lead) *domain.Lead {
	c := *l
	c.ConversationHistory = append([]domain.ConversationEntry(nil), l.ConversationHistory...)
	if c.ConversationHistory == nil {
		c.ConversationHistory = []domain.ConversationEntry{}
	}
	return &c
}

var _ domain.LeadRepository = (*MemoryLeadRepository)(nil)
