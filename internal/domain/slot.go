package domain

// Slot is one required intake detail.
type Slot string

const (
	SlotServiceType  Slot = "service_type"
	SlotPlanOrVisit  Slot = "plan_or_visit"
	SlotArea         Slot = "area"
	SlotPropertyType Slot = "property_type"
	SlotTimeline     Slot = "timeline"
	SlotAvailability Slot = "availability"
	SlotName         Slot = "name"
)

// SlotOrder is the order intake questions are asked in.
var SlotOrder = []Slot{
	SlotServiceType,
	SlotPlanOrVisit,
	SlotArea,
	SlotPropertyType,
	SlotTimeline,
	SlotAvailability,
	SlotName,
}

// Filled reports whether the lead already has a value for s.
func (l *Lead) Filled(s Slot) bool {
	switch s {
	case SlotServiceType:
		return l.ProjectType != nil
	case SlotPlanOrVisit:
		return l.HasPlan != nil
	case SlotArea:
		return nonEmpty(l.CustomerArea)
	case SlotPropertyType:
		return l.PropertyType != nil
	case SlotTimeline:
		return nonEmpty(l.Timeline)
	case SlotAvailability:
		return nonEmpty(l.Availability)
	case SlotName:
		return nonEmpty(l.CustomerName)
	}
	return true
}

// NextUnfilledSlot returns the first slot in SlotOrder without a value.
// ok is false when intake is complete.
func NextUnfilledSlot(l *Lead) (slot Slot, ok bool) {
	for _, s := range SlotOrder {
		if !l.Filled(s) {
			return s, true
		}
	}
	return "", false
}

// MissingSlots lists every unfilled slot in order.
func MissingSlots(l *Lead) []Slot {
	var out []Slot
	for _, s := range SlotOrder {
		if !l.Filled(s) {
			out = append(out, s)
		}
	}
	return out
}

func nonEmpty(s *string) bool {
	return s != nil && *s != ""
}
