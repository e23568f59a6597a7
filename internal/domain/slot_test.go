package domain

import (
	"testing"
	"time"
)

func TestNextUnfilledSlot(t *testing.T) {
	lead := NewLead("263771234567", time.Now())

	fill := []func(){
		func() { lead.ProjectType = ptr(ProjectBathroom) },
		func() { lead.SetHasPlan(false) },
		func() { lead.CustomerArea = ptr("Mabelreign") },
		func() { lead.PropertyType = ptr(PropertyHouse) },
		func() { lead.Timeline = ptr("next month") },
		func() { lead.Availability = ptr("Saturday morning") },
		func() { lead.CustomerName = ptr("Rudo") },
	}

	for i, want := range SlotOrder {
		got, ok := NextUnfilledSlot(lead)
		if !ok || got != want {
			t.Fatalf("step %d: NextUnfilledSlot() = %q, %v, want %q", i, got, ok, want)
		}
		fill[i]()
	}

	if got, ok := NextUnfilledSlot(lead); ok {
		t.Errorf("NextUnfilledSlot() = %q, want complete", got)
	}
}

func TestNextUnfilledSlot_SkipsFilledOutOfOrder(t *testing.T) {
	lead := NewLead("263771234567", time.Now())
	lead.CustomerName = ptr("Rudo")
	lead.CustomerArea = ptr("Avondale")

	if got, _ := NextUnfilledSlot(lead); got != SlotServiceType {
		t.Errorf("NextUnfilledSlot() = %q, want service_type", got)
	}

	lead.ProjectType = ptr(ProjectKitchen)
	if got, _ := NextUnfilledSlot(lead); got != SlotPlanOrVisit {
		t.Errorf("NextUnfilledSlot() = %q, want plan_or_visit", got)
	}

	lead.SetHasPlan(true)
	if got, _ := NextUnfilledSlot(lead); got != SlotPropertyType {
		t.Errorf("NextUnfilledSlot() = %q, want property_type", got)
	}
}

func TestLead_FilledTreatsEmptyTextAsMissing(t *testing.T) {
	lead := Lead{CustomerArea: ptr("")}
	if lead.Filled(SlotArea) {
		t.Error("empty area should not count as filled")
	}
}

func TestMissingSlots(t *testing.T) {
	lead := NewLead("263771234567", time.Now())
	lead.ProjectType = ptr(ProjectOther)
	lead.Timeline = ptr("asap")

	got := MissingSlots(lead)
	want := []Slot{SlotPlanOrVisit, SlotArea, SlotPropertyType, SlotAvailability, SlotName}
	if len(got) != len(want) {
		t.Fatalf("MissingSlots() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("MissingSlots()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
