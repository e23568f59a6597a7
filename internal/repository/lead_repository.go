// Package repository implements lead persistence using PostgreSQL, plus an
// in-memory store for local development and tests.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jkindrix/plumbot/internal/clock"
	"github.com/jkindrix/plumbot/internal/domain"
	apperrors "github.com/jkindrix/plumbot/internal/errors"
)

// LeadRepository implements domain.LeadRepository using PostgreSQL.
type LeadRepository struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

// NewLeadRepository creates a new LeadRepository.
func NewLeadRepository(pool *pgxpool.Pool, clk clock.Clock) *LeadRepository {
	return &LeadRepository{pool: pool, clock: clock.OrDefault(clk)}
}

// GetOrCreateByPhone resolves the lead for phone, inserting it first when
// needed. The insert is conflict-safe so concurrent first messages from the
// same number still produce exactly one row.
func (r *LeadRepository) GetOrCreateByPhone(ctx context.Context, phone string) (*domain.Lead, bool, error) {
	wctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	lead := domain.NewLead(phone, r.clock.Now())
	tag, err := r.pool.Exec(wctx, `
		INSERT INTO leads (id, phone_number, plan_status, status, is_lead_active, followup_stage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (phone_number) DO NOTHING`,
		lead.ID, lead.PhoneNumber, string(lead.PlanStatus), string(lead.Status),
		lead.IsLeadActive, string(lead.FollowupStage), lead.CreatedAt,
	)
	if err != nil {
		return nil, false, apperrors.DatabaseError("leads.GetOrCreateByPhone", err)
	}

	existing, err := r.GetByPhone(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	return existing, tag.RowsAffected() == 1, nil
}

// GetByPhone retrieves a lead by phone number.
func (r *LeadRepository) GetByPhone(ctx context.Context, phone string) (*domain.Lead, error) {
	query := `SELECT ` + LeadColumns.Select() + ` FROM leads WHERE phone_number = $1`
	return r.scanOne(ctx, "leads.GetByPhone", query, phone)
}

// GetByID retrieves a lead by ID.
func (r *LeadRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Lead, error) {
	query := `SELECT ` + LeadColumns.Select() + ` FROM leads WHERE id = $1`
	return r.scanOne(ctx, "leads.GetByID", query, id)
}

// updateColumns excludes the history, which only grows through AppendMessage,
// and the immutable identity columns.
var updateColumns = LeadColumns.Without("conversation_history", "phone_number", "created_at")

// Update saves the lead's mutable columns.
func (r *LeadRepository) Update(ctx context.Context, lead *domain.Lead) error {
	lead.UpdatedAt = r.clock.Now()

	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	query := `UPDATE leads SET ` + updateColumns.UpdateSet() + ` WHERE id = $1`
	result, err := r.pool.Exec(ctx, query,
		lead.ID,
		lead.CustomerName,
		enumPtr(lead.ProjectType),
		enumPtr(lead.PropertyType),
		lead.CustomerArea,
		lead.Timeline,
		lead.Availability,
		lead.HasPlan,
		string(lead.PlanStatus),
		lead.PlanFile,
		lead.PlanUploadedAt,
		string(lead.Status),
		lead.IsLeadActive,
		lead.LeadMarkedInactiveAt,
		string(lead.FollowupStage),
		lead.FollowupCount,
		lead.LastFollowupSent,
		lead.LastCustomerResponse,
		lead.UpdatedAt,
	)
	if err != nil {
		return apperrors.DatabaseError("leads.Update", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("lead")
	}
	return nil
}

// AppendMessage appends one entry to conversation_history in a single
// statement, so concurrent appends never lose each other.
func (r *LeadRepository) AppendMessage(ctx context.Context, leadID uuid.UUID, entry domain.ConversationEntry) error {
	payload, err := json.Marshal([]domain.ConversationEntry{entry})
	if err != nil {
		return fmt.Errorf("failed to marshal conversation entry: %w", err)
	}

	ctx, cancel := WithWriteTimeout(ctx)
	defer cancel()

	result, err := r.pool.Exec(ctx, `
		UPDATE leads
		SET conversation_history = conversation_history || $2::jsonb,
		    updated_at = $3
		WHERE id = $1`,
		leadID, payload, r.clock.Now(),
	)
	if err != nil {
		return apperrors.DatabaseError("leads.AppendMessage", err)
	}
	if result.RowsAffected() == 0 {
		return apperrors.NotFound("lead")
	}
	return nil
}

// followupCandidatesQuery mirrors domain.Lead.IsFollowupCandidate.
// $1 quiet-period cutoff, $2 force, $3 start of the local day, $4 limit (0 = all).
var followupCandidatesQuery = `
	SELECT ` + LeadColumns.Select() + `
	FROM leads
	WHERE is_lead_active
	  AND status = 'pending'
	  AND followup_stage <> 'completed'
	  AND NOT (followup_stage = 'responded' AND COALESCE(last_customer_response > $1, FALSE))
	  AND plan_status NOT IN ('pending_upload', 'plan_uploaded', 'plan_reviewed', 'ready_to_book')
	  AND (last_customer_response IS NULL OR last_customer_response <= $1)
	  AND ($2 OR last_followup_sent IS NULL OR last_followup_sent < $3)
	ORDER BY last_customer_response ASC NULLS FIRST, created_at ASC
	LIMIT NULLIF($4, 0)`

// ListFollowupCandidates returns leads eligible for automatic follow-up.
func (r *LeadRepository) ListFollowupCandidates(ctx context.Context, q domain.FollowupQuery) ([]*domain.Lead, error) {
	ctx, cancel := WithListQueryTimeout(ctx)
	defer cancel()

	rows, err := r.pool.Query(ctx, followupCandidatesQuery,
		q.Now.Add(-domain.ResponseQuietPeriod),
		q.Force,
		clock.StartOfDay(q.Now, q.Location),
		q.Limit,
	)
	if err != nil {
		return nil, apperrors.DatabaseError("leads.ListFollowupCandidates", err)
	}
	defer rows.Close()

	var leads []*domain.Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, apperrors.DatabaseError("leads.ListFollowupCandidates", err)
		}
		leads = append(leads, lead)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.DatabaseError("leads.ListFollowupCandidates", err)
	}
	return leads, nil
}

func (r *LeadRepository) scanOne(ctx context.Context, op, query string, arg any) (*domain.Lead, error) {
	ctx, cancel := WithQueryTimeout(ctx)
	defer cancel()

	lead, err := scanLead(r.pool.QueryRow(ctx, query, arg))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NotFound("lead")
		}
		return nil, apperrors.DatabaseError(op, err)
	}
	return lead, nil
}

// scanLead scans a row selected with LeadColumns.
func scanLead(row pgx.Row) (*domain.Lead, error) {
	var (
		lead                              domain.Lead
		projectType, propertyType         *string
		history                           []byte
		planStatus, status, followupStage string
	)

	err := row.Scan(
		&lead.ID,
		&lead.PhoneNumber,
		&lead.CustomerName,
		&projectType,
		&propertyType,
		&lead.CustomerArea,
		&lead.Timeline,
		&lead.Availability,
		&lead.HasPlan,
		&history,
		&planStatus,
		&lead.PlanFile,
		&lead.PlanUploadedAt,
		&status,
		&lead.IsLeadActive,
		&lead.LeadMarkedInactiveAt,
		&followupStage,
		&lead.FollowupCount,
		&lead.LastFollowupSent,
		&lead.LastCustomerResponse,
		&lead.CreatedAt,
		&lead.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if projectType != nil {
		pt := domain.ProjectType(*projectType)
		lead.ProjectType = &pt
	}
	if propertyType != nil {
		pt := domain.PropertyType(*propertyType)
		lead.PropertyType = &pt
	}
	lead.PlanStatus = domain.PlanStatus(planStatus)
	lead.Status = domain.LeadStatus(status)
	lead.FollowupStage = domain.FollowupStage(followupStage)

	lead.ConversationHistory = []domain.ConversationEntry{}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &lead.ConversationHistory); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conversation history: %w", err)
		}
	}

	return &lead, nil
}

func enumPtr[T ~string](v *T) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

var _ domain.LeadRepository = (*LeadRepository)(nil)
