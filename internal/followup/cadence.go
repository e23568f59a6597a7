// Package followup re-engages leads that have gone quiet. A run selects the
// eligible leads, works out which cadence stage each is due for, and sends
// the stage's message straight away.
package followup

import (
	"time"

	"github.com/jkindrix/plumbot/internal/domain"
)

const day = 24 * time.Hour

// stageWaits is how long after the previous follow-up each stage waits.
var stageWaits = map[domain.FollowupStage]struct {
	next domain.FollowupStage
	wait time.Duration
}{
	domain.StageDay1:   {domain.StageDay3, 3 * day},
	domain.StageDay3:   {domain.StageWeek1, 7 * day},
	domain.StageWeek1:  {domain.StageWeek2, 14 * day},
	domain.StageWeek2:  {domain.StageMonth1, 30 * day},
	domain.StageMonth1: {domain.StageCompleted, 0},
}

// NextStage returns the stage lead is due to move to at now. It returns
// false when nothing is due this run.
func NextStage(lead *domain.Lead, now time.Time) (domain.FollowupStage, bool) {
	switch lead.FollowupStage {
	case domain.StageNone, domain.StageResponded:
		if !now.Before(lead.LastMessageTime().Add(day)) {
			return domain.StageDay1, true
		}
		return "", false
	case domain.StageCompleted:
		return "", false
	}

	step, ok := stageWaits[lead.FollowupStage]
	if !ok {
		return "", false
	}
	if step.wait == 0 {
		return step.next, true
	}
	// Leads imported without a send time count from their last message.
	since := lead.LastMessageTime()
	if lead.LastFollowupSent != nil {
		since = *lead.LastFollowupSent
	}
	if now.Sub(since) >= step.wait {
		return step.next, true
	}
	return "", false
}
