package domain

import (
	"testing"
	"time"
)

func ptr[T any](v T) *T { return &v }

func TestNewLead(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	lead := NewLead("263771234567", now)

	if lead.ID.String() == "" {
		t.Error("expected lead ID to be generated")
	}
	if lead.Status != StatusPending {
		t.Errorf("Status = %s, want pending", lead.Status)
	}
	if !lead.IsLeadActive {
		t.Error("new lead should be active")
	}
	if lead.PlanStatus != PlanNone || lead.FollowupStage != StageNone {
		t.Errorf("PlanStatus/FollowupStage = %s/%s, want none/none", lead.PlanStatus, lead.FollowupStage)
	}
	if lead.CustomerName != nil || lead.ProjectType != nil || lead.PropertyType != nil ||
		lead.CustomerArea != nil || lead.Timeline != nil || lead.HasPlan != nil {
		t.Error("optional fields should be nil on a new lead")
	}
	if len(lead.ConversationHistory) != 0 {
		t.Error("history should start empty")
	}
	if !lead.CreatedAt.Equal(now) || !lead.UpdatedAt.Equal(now) {
		t.Error("timestamps should be set to now")
	}
}

func TestLead_IsMidConversation(t *testing.T) {
	tests := []struct {
		name     string
		lead     Lead
		expected bool
	}{
		{"empty", Lead{}, false},
		{"service only", Lead{ProjectType: ptr(ProjectKitchen)}, false},
		{"area without service", Lead{CustomerArea: ptr("Borrowdale")}, false},
		{"service and plan", Lead{ProjectType: ptr(ProjectKitchen), HasPlan: ptr(false)}, true},
		{"service and area", Lead{ProjectType: ptr(ProjectKitchen), CustomerArea: ptr("Avondale")}, true},
		{"service and property", Lead{ProjectType: ptr(ProjectKitchen), PropertyType: ptr(PropertyHouse)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.lead.IsMidConversation(); got != tt.expected {
				t.Errorf("IsMidConversation() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLead_SetHasPlan(t *testing.T) {
	lead := NewLead("263771234567", time.Now())

	lead.SetHasPlan(true)
	if lead.PlanStatus != PlanPendingUpload {
		t.Errorf("PlanStatus = %s, want pending_upload", lead.PlanStatus)
	}

	lead.SetHasPlan(false)
	if lead.PlanStatus != PlanNone {
		t.Errorf("PlanStatus = %s, want none", lead.PlanStatus)
	}

	lead.PlanStatus = PlanReviewed
	lead.SetHasPlan(true)
	if lead.PlanStatus != PlanReviewed {
		t.Errorf("reviewed plan should keep its status, got %s", lead.PlanStatus)
	}
}

func TestLead_SetPlanUploaded(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	lead := NewLead("263771234567", now)

	lead.SetPlanUploaded("/media/first.pdf", now)
	if lead.PlanFile == nil || *lead.PlanFile != "/media/first.pdf" {
		t.Fatalf("PlanFile = %v", lead.PlanFile)
	}
	if lead.PlanStatus != PlanUploaded || lead.HasPlan == nil || !*lead.HasPlan {
		t.Errorf("PlanStatus/HasPlan = %s/%v", lead.PlanStatus, lead.HasPlan)
	}

	later := now.Add(time.Minute)
	lead.SetPlanUploaded("/media/second.pdf", later)
	if *lead.PlanFile != "/media/first.pdf" {
		t.Errorf("existing plan file was overwritten: %s", *lead.PlanFile)
	}
	if !lead.PlanUploadedAt.Equal(later) {
		t.Errorf("PlanUploadedAt = %v, want %v", lead.PlanUploadedAt, later)
	}
}

func TestLead_RecordCustomerResponse(t *testing.T) {
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	lead := NewLead("263771234567", now.Add(-60*24*time.Hour))
	lead.FollowupStage = StageCompleted
	lead.MarkInactive(now.Add(-time.Hour))

	lead.RecordCustomerResponse(now)

	if lead.FollowupStage != StageResponded {
		t.Errorf("FollowupStage = %s, want responded", lead.FollowupStage)
	}
	if !lead.IsLeadActive || lead.LeadMarkedInactiveAt != nil {
		t.Error("a response should reactivate the lead")
	}
	if !lead.LastMessageTime().Equal(now) {
		t.Errorf("LastMessageTime() = %v, want %v", lead.LastMessageTime(), now)
	}
}

func TestLead_MissingPricingFields(t *testing.T) {
	lead := &Lead{ProjectType: ptr(ProjectKitchen), CustomerArea: ptr("Hatfield")}
	missing := lead.MissingPricingFields()
	if len(missing) != 2 || missing[0] != "the type of property" || missing[1] != "whether you have a building plan" {
		t.Errorf("MissingPricingFields() = %v", missing)
	}

	lead.PropertyType = ptr(PropertyHouse)
	lead.HasPlan = ptr(true)
	if got := lead.MissingPricingFields(); len(got) != 0 {
		t.Errorf("MissingPricingFields() = %v, want none", got)
	}
}

func TestLead_RecentHistory(t *testing.T) {
	lead := NewLead("263771234567", time.Now())
	for i := 0; i < 5; i++ {
		lead.AppendMessage(RoleCustomer, string(rune('a'+i)), time.Now())
	}
	recent := lead.RecentHistory(2)
	if len(recent) != 2 || recent[0].Content != "d" || recent[1].Content != "e" {
		t.Errorf("RecentHistory(2) = %v", recent)
	}
	if len(lead.RecentHistory(10)) != 5 {
		t.Error("RecentHistory(10) should return all entries")
	}
}

func TestFollowupStage_Rank(t *testing.T) {
	order := []FollowupStage{StageDay1, StageDay3, StageWeek1, StageWeek2, StageMonth1, StageCompleted}
	for i := 1; i < len(order); i++ {
		if order[i].Rank() <= order[i-1].Rank() {
			t.Errorf("%s should rank after %s", order[i], order[i-1])
		}
	}
	if StageNone.Rank() != StageResponded.Rank() {
		t.Error("none and responded should share a rank")
	}
}

func TestLead_IsFollowupCandidate(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	base := func() *Lead {
		l := NewLead("263771234567", now.Add(-72*time.Hour))
		l.RecordCustomerResponse(now.Add(-48 * time.Hour))
		return l
	}
	q := FollowupQuery{Now: now}

	tests := []struct {
		name     string
		mutate   func(*Lead)
		query    FollowupQuery
		expected bool
	}{
		{"silent pending lead", func(*Lead) {}, q, true},
		{"responded 23 hours ago", func(l *Lead) { l.LastCustomerResponse = ptr(now.Add(-23 * time.Hour)) }, q, false},
		{"responded 25 hours ago", func(l *Lead) { l.LastCustomerResponse = ptr(now.Add(-25 * time.Hour)) }, q, true},
		{"inactive", func(l *Lead) { l.IsLeadActive = false }, q, false},
		{"confirmed", func(l *Lead) { l.Status = StatusConfirmed }, q, false},
		{"completed stage", func(l *Lead) { l.FollowupStage = StageCompleted }, q, false},
		{"plan pending upload", func(l *Lead) { l.PlanStatus = PlanPendingUpload }, q, false},
		{"plan reviewed", func(l *Lead) { l.PlanStatus = PlanReviewed }, q, false},
		{"followed up earlier today", func(l *Lead) { l.LastFollowupSent = ptr(now.Add(-2 * time.Hour)) }, q, false},
		{"followed up today with force", func(l *Lead) { l.LastFollowupSent = ptr(now.Add(-2 * time.Hour)) },
			FollowupQuery{Now: now, Force: true}, true},
		{"followed up yesterday", func(l *Lead) { l.LastFollowupSent = ptr(now.Add(-13 * time.Hour)) }, q, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := base()
			tt.mutate(l)
			if got := l.IsFollowupCandidate(tt.query); got != tt.expected {
				t.Errorf("IsFollowupCandidate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestLead_IsFollowupCandidate_LocalDay(t *testing.T) {
	harare := time.FixedZone("CAT", 2*60*60)
	// 22:30 UTC is 00:30 the next day in Harare.
	now := time.Date(2025, 3, 10, 22, 30, 0, 0, time.UTC)
	l := NewLead("263771234567", now.Add(-72*time.Hour))
	l.LastCustomerResponse = ptr(now.Add(-48 * time.Hour))
	l.LastFollowupSent = ptr(time.Date(2025, 3, 10, 21, 0, 0, 0, time.UTC))

	if l.IsFollowupCandidate(FollowupQuery{Now: now}) {
		t.Error("same UTC day should exclude the lead")
	}
	if !l.IsFollowupCandidate(FollowupQuery{Now: now, Location: harare}) {
		t.Error("a new Harare day should include the lead")
	}
}
