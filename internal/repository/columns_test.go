package repository

import (
	"strings"
	"testing"
)

func TestTableColumns(t *testing.T) {
	tc := TableColumns{TableName: "leads", Columns: []string{"id", "phone_number", "status"}}

	if got := tc.Select(); got != "id, phone_number, status" {
		t.Errorf("Select() = %q", got)
	}
	if got := tc.Placeholders(); got != "$1, $2, $3" {
		t.Errorf("Placeholders() = %q", got)
	}
	if got := tc.UpdateSet(); got != "phone_number = $2, status = $3" {
		t.Errorf("UpdateSet() = %q", got)
	}
	if got := tc.Without("phone_number").Select(); got != "id, status" {
		t.Errorf("Without() = %q", got)
	}
	if got := (TableColumns{Columns: []string{"id"}}).UpdateSet(); got != "" {
		t.Errorf("UpdateSet() with only id = %q, want empty", got)
	}
}

func TestLeadColumns_UpdateExcludesHistory(t *testing.T) {
	set := updateColumns.UpdateSet()
	for _, col := range []string{"conversation_history", "phone_number", "created_at"} {
		if strings.Contains(set, col+" =") {
			t.Errorf("update SET clause must not write %s: %s", col, set)
		}
	}
	// id plus the 18 mutable columns bound in LeadRepository.Update.
	if updateColumns.Count() != 19 {
		t.Errorf("updateColumns.Count() = %d, want 19", updateColumns.Count())
	}
	if LeadColumns.Count() != 22 {
		t.Errorf("LeadColumns.Count() = %d, want 22 (scanLead destinations)", LeadColumns.Count())
	}
}

func TestFollowupCandidatesQuery_Ordering(t *testing.T) {
	if !strings.Contains(followupCandidatesQuery, "ORDER BY last_customer_response ASC NULLS FIRST, created_at ASC") {
		t.Error("candidates must be ordered oldest-silent first")
	}
}
