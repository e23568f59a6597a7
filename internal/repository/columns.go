package repository

import (
	"strconv"
	"strings"
)

// LeadColumns defines the columns for the leads table. Queries build their
// column lists from this so SELECT and Scan cannot drift apart.
var LeadColumns = TableColumns{
	TableName: "leads",
	Columns: []string{
		"id",
		"phone_number",
		"customer_name",
		"project_type",
		"property_type",
		"customer_area",
		"timeline",
		"availability",
		"has_plan",
		"conversation_history",
		"plan_status",
		"plan_file",
		"plan_uploaded_at",
		"status",
		"is_lead_active",
		"lead_marked_inactive_at",
		"followup_stage",
		"followup_count",
		"last_followup_sent",
		"last_customer_response",
		"created_at",
		"updated_at",
	},
}

// TableColumns provides helper methods for generating SQL fragments.
type TableColumns struct {
	TableName string
	Columns   []string
}

// Select returns a comma-separated list of columns for SELECT queries.
func (tc TableColumns) Select() string {
	return strings.Join(tc.Columns, ", ")
}

// Placeholders returns numbered placeholders for the columns.
// Example: "$1, $2, $3, $4" for 4 columns
func (tc TableColumns) Placeholders() string {
	placeholders := make([]string, len(tc.Columns))
	for i := range tc.Columns {
		placeholders[i] = "$" + strconv.Itoa(i+1)
	}
	return strings.Join(placeholders, ", ")
}

// UpdateSet returns the SET clause for UPDATE queries, skipping the first
// column (the id, bound to $1).
// Example: "name = $2, email = $3"
func (tc TableColumns) UpdateSet() string {
	if len(tc.Columns) <= 1 {
		return ""
	}
	parts := make([]string, len(tc.Columns)-1)
	for i := 1; i < len(tc.Columns); i++ {
		parts[i-1] = tc.Columns[i] + " = $" + strconv.Itoa(i+1)
	}
	return strings.Join(parts, ", ")
}

// Count returns the number of columns.
func (tc TableColumns) Count() int {
	return len(tc.Columns)
}

// Without returns a new TableColumns excluding the specified columns.
func (tc TableColumns) Without(exclude ...string) TableColumns {
	skip := make(map[string]bool, len(exclude))
	for _, col := range exclude {
		skip[col] = true
	}
	filtered := make([]string, 0, len(tc.Columns))
	for _, col := range tc.Columns {
		if !skip[col] {
			filtered = append(filtered, col)
		}
	}
	return TableColumns{TableName: tc.TableName, Columns: filtered}
}
