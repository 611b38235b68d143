package queue

import "github.com/notifyhub/notifyhub/internal/domain"

// Item is the minimal data placed on the dispatch queue.
// Workers load the stored queue item and its notification by ID, so the
// queue stays lightweight and the store stays authoritative.
type Item struct {
	QueueItemID    string
	NotificationID string
	Channel        domain.Channel
	Priority       domain.Priority
}

// Lane is one of the three dispatch tiers.
type Lane int

const (
	LaneLow Lane = iota
	LaneNormal
	LaneHigh

	laneCount = 3
)

func (l Lane) String() string {
	switch l {
	case LaneHigh:
		return "high"
	case LaneNormal:
		return "normal"
	default:
		return "low"
	}
}

// LaneFor folds the five notification priorities onto three lanes:
// urgent and critical share the high lane, high and normal the normal lane.
func LaneFor(p domain.Priority) (Lane, bool) {
	switch p {
	case domain.PriorityUrgent, domain.PriorityCritical:
		return LaneHigh, true
	case domain.PriorityHigh, domain.PriorityNormal:
		return LaneNormal, true
	case domain.PriorityLow:
		return LaneLow, true
	}
	return LaneLow, false
}
