// Package domain contains the core business entities and interfaces.
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jkindrix/plumbot/internal/clock"
)

// ProjectType is the kind of work a lead is asking about.
type ProjectType string

const (
	ProjectBathroom    ProjectType = "bathroom_renovation"
	ProjectKitchen     ProjectType = "kitchen_renovation"
	ProjectNewPlumbing ProjectType = "new_plumbing_installation"
	ProjectOther       ProjectType = "other"
)

// Valid reports whether p is a known project type.
func (p ProjectType) Valid() bool {
	switch p {
	case ProjectBathroom, ProjectKitchen, ProjectNewPlumbing, ProjectOther:
		return true
	}
	return false
}

// Label returns the customer-facing name of the project type.
func (p ProjectType) Label() string {
	switch p {
	case ProjectBathroom:
		return "bathroom renovation"
	case ProjectKitchen:
		return "kitchen renovation"
	case ProjectNewPlumbing:
		return "new plumbing installation"
	case ProjectOther:
		return "plumbing project"
	}
	return ""
}

// PropertyType is the kind of building the work is for.
type PropertyType string

const (
	PropertyHouse      PropertyType = "house"
	PropertyApartment  PropertyType = "apartment"
	PropertyTownhouse  PropertyType = "townhouse"
	PropertyCommercial PropertyType = "commercial"
	PropertyOther      PropertyType = "other"
)

// Valid reports whether p is a known property type.
func (p PropertyType) Valid() bool {
	switch p {
	case PropertyHouse, PropertyApartment, PropertyTownhouse, PropertyCommercial, PropertyOther:
		return true
	}
	return false
}

// PlanStatus tracks the customer's building plan through review.
type PlanStatus string

const (
	PlanNone          PlanStatus = "none"
	PlanPendingUpload PlanStatus = "pending_upload"
	PlanUploaded      PlanStatus = "plan_uploaded"
	PlanReviewed      PlanStatus = "plan_reviewed"
	PlanReadyToBook   PlanStatus = "ready_to_book"
)

// Valid reports whether s is a known plan status.
func (s PlanStatus) Valid() bool {
	switch s {
	case PlanNone, PlanPendingUpload, PlanUploaded, PlanReviewed, PlanReadyToBook:
		return true
	}
	return false
}

// InPlanFlow reports whether the plan is somewhere between promised and booked.
// Leads in the plan flow are handled by staff, not by automatic follow-up.
func (s PlanStatus) InPlanFlow() bool {
	return s.Valid() && s != PlanNone
}

// LeadStatus is the booking lifecycle state.
type LeadStatus string

const (
	StatusPending    LeadStatus = "pending"
	StatusInProgress LeadStatus = "in_progress"
	StatusConfirmed  LeadStatus = "confirmed"
	StatusCompleted  LeadStatus = "completed"
	StatusCancelled  LeadStatus = "cancelled"
	StatusNoShow     LeadStatus = "no_show"
)

// Valid reports whether s is a known lead status.
func (s LeadStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// FollowupStage is a step in the re-engagement cadence.
type FollowupStage string

const (
	StageNone      FollowupStage = "none"
	StageResponded FollowupStage = "responded"
	StageDay1      FollowupStage = "day_1"
	StageDay3      FollowupStage = "day_3"
	StageWeek1     FollowupStage = "week_1"
	StageWeek2     FollowupStage = "week_2"
	StageMonth1    FollowupStage = "month_1"
	StageCompleted FollowupStage = "completed"
)

// Rank orders stages along the cadence. none and responded share rank 0.
func (s FollowupStage) Rank() int {
	switch s {
	case StageDay1:
		return 1
	case StageDay3:
		return 2
	case StageWeek1:
		return 3
	case StageWeek2:
		return 4
	case StageMonth1:
		return 5
	case StageCompleted:
		return 6
	}
	return 0
}

// Role identifies who authored a conversation entry.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
)

// ConversationEntry is one message in a lead's conversation history.
type ConversationEntry struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// FollowupTag prefixes history entries written by the cadence engine.
const FollowupTag = "[AUTOMATIC FOLLOW-UP]"

// Lead is a prospective customer identified by WhatsApp phone number.
type Lead struct {
	ID          uuid.UUID `json:"id"`
	PhoneNumber string    `json:"phone_number"`

	CustomerName *string       `json:"customer_name,omitempty"`
	ProjectType  *ProjectType  `json:"project_type,omitempty"`
	PropertyType *PropertyType `json:"property_type,omitempty"`
	CustomerArea *string       `json:"customer_area,omitempty"`
	Timeline     *string       `json:"timeline,omitempty"`
	Availability *string       `json:"availability,omitempty"`
	HasPlan      *bool         `json:"has_plan,omitempty"`

	ConversationHistory []ConversationEntry `json:"conversation_history"`

	PlanStatus     PlanStatus `json:"plan_status"`
	PlanFile       *string    `json:"plan_file,omitempty"`
	PlanUploadedAt *time.Time `json:"plan_uploaded_at,omitempty"`

	Status               LeadStatus `json:"status"`
	IsLeadActive         bool       `json:"is_lead_active"`
	LeadMarkedInactiveAt *time.Time `json:"lead_marked_inactive_at,omitempty"`

	FollowupStage        FollowupStage `json:"followup_stage"`
	FollowupCount        int           `json:"followup_count"`
	LastFollowupSent     *time.Time    `json:"last_followup_sent,omitempty"`
	LastCustomerResponse *time.Time    `json:"last_customer_response,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewLead creates a Lead with first-contact defaults.
func NewLead(phone string, now time.Time) *Lead {
	return &Lead{
		ID:                  uuid.New(),
		PhoneNumber:         phone,
		ConversationHistory: []ConversationEntry{},
		PlanStatus:          PlanNone,
		Status:              StatusPending,
		IsLeadActive:        true,
		FollowupStage:       StageNone,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// AppendMessage adds an entry to the end of the conversation history.
func (l *Lead) AppendMessage(role Role, content string, at time.Time) ConversationEntry {
	entry := ConversationEntry{Role: role, Content: content, Timestamp: at}
	l.ConversationHistory = append(l.ConversationHistory, entry)
	return entry
}

// RecordCustomerResponse stamps last_customer_response and resets the
// follow-up clock. A lead that went quiet long enough to be completed is
// reactivated by a fresh message.
func (l *Lead) RecordCustomerResponse(at time.Time) {
	l.LastCustomerResponse = &at
	l.FollowupStage = StageResponded
	if !l.IsLeadActive {
		l.IsLeadActive = true
		l.LeadMarkedInactiveAt = nil
	}
}

// MarkInactive retires the lead from automatic follow-up.
func (l *Lead) MarkInactive(at time.Time) {
	l.IsLeadActive = false
	l.LeadMarkedInactiveAt = &at
}

// SetHasPlan records whether the customer has a building plan, keeping
// plan_status consistent with it.
func (l *Lead) SetHasPlan(has bool) {
	l.HasPlan = &has
	switch {
	case has && l.PlanStatus == PlanNone:
		l.PlanStatus = PlanPendingUpload
	case !has && l.PlanStatus == PlanPendingUpload:
		l.PlanStatus = PlanNone
	}
}

// SetPlanUploaded records a stored plan file. An existing plan file is never
// overwritten; a plan already past review keeps its status.
func (l *Lead) SetPlanUploaded(ref string, at time.Time) {
	if l.PlanFile == nil || *l.PlanFile == "" {
		l.PlanFile = &ref
	}
	l.PlanUploadedAt = &at
	has := true
	l.HasPlan = &has
	if l.PlanStatus == PlanNone || l.PlanStatus == PlanPendingUpload {
		l.PlanStatus = PlanUploaded
	}
}

// IsMidConversation reports whether intake is underway: the service is known
// and at least one follow-on detail has been collected.
func (l *Lead) IsMidConversation() bool {
	if l.ProjectType == nil {
		return false
	}
	return l.HasPlan != nil || l.CustomerArea != nil || l.PropertyType != nil
}

// MissingPricingFields lists, in human terms, which of the details needed for
// a price range are still unknown.
func (l *Lead) MissingPricingFields() []string {
	var missing []string
	if l.ProjectType == nil {
		missing = append(missing, "the type of project")
	}
	if l.PropertyType == nil {
		missing = append(missing, "the type of property")
	}
	if l.CustomerArea == nil {
		missing = append(missing, "your area")
	}
	if l.HasPlan == nil {
		missing = append(missing, "whether you have a building plan")
	}
	return missing
}

// LastMessageTime is the last customer response, or creation time when the
// customer has never responded.
func (l *Lead) LastMessageTime() time.Time {
	if l.LastCustomerResponse != nil {
		return *l.LastCustomerResponse
	}
	return l.CreatedAt
}

// RecentHistory returns up to the last n conversation entries.
func (l *Lead) RecentHistory(n int) []ConversationEntry {
	if n <= 0 || len(l.ConversationHistory) <= n {
		return l.ConversationHistory
	}
	return l.ConversationHistory[len(l.ConversationHistory)-n:]
}

// DisplayName returns the customer's name or fallback.
func (l *Lead) DisplayName(fallback string) string {
	if l.CustomerName == nil || strings.TrimSpace(*l.CustomerName) == "" {
		return fallback
	}
	return *l.CustomerName
}

// ProjectLabel returns the project type label or fallback.
func (l *Lead) ProjectLabel(fallback string) string {
	if l.ProjectType == nil || l.ProjectType.Label() == "" {
		return fallback
	}
	return l.ProjectType.Label()
}

// FollowupQuery selects leads eligible for automatic follow-up.
type FollowupQuery struct {
	Now time.Time
	// Force ignores the once-per-local-day limit.
	Force bool
	// Location defines the local calendar day. Nil means UTC.
	Location *time.Location
	Limit    int
}

// ResponseQuietPeriod suppresses follow-up after a customer message.
const ResponseQuietPeriod = 24 * time.Hour

// IsFollowupCandidate applies the selection rules for automatic follow-up.
// Stores that cannot express them in a query filter with this.
func (l *Lead) IsFollowupCandidate(q FollowupQuery) bool {
	if !l.IsLeadActive || l.Status != StatusPending || l.FollowupStage == StageCompleted {
		return false
	}
	if l.PlanStatus.InPlanFlow() {
		return false
	}
	cutoff := q.Now.Add(-ResponseQuietPeriod)
	// A response silences the lead for the quiet period, whatever its stage.
	if l.LastCustomerResponse != nil && l.LastCustomerResponse.After(cutoff) {
		return false
	}
	if !q.Force && l.LastFollowupSent != nil {
		if !l.LastFollowupSent.Before(clock.StartOfDay(q.Now, q.Location)) {
			return false
		}
	}
	return true
}
