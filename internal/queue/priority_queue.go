package queue

import (
	"context"
	"fmt"

	"github.com/notifyhub/notifyhub/internal/domain"
)

// Default lane capacities.
const (
	DefaultHighCapacity   = 1000
	DefaultNormalCapacity = 5000
	DefaultLowCapacity    = 2000
)

// PriorityQueue is the in-process hand-off between the dispatch poller and
// the delivery workers: one buffered channel per Lane.
//
// Dequeue drains the high lane first; normal and low compete fairly once
// high is empty, so low never starves.
type PriorityQueue struct {
	lanes [laneCount]chan Item
}

func New() *PriorityQueue {
	return NewWithCapacity(DefaultHighCapacity, DefaultNormalCapacity, DefaultLowCapacity)
}

func NewWithCapacity(high, normal, low int) *PriorityQueue {
	q := &PriorityQueue{}
	q.lanes[LaneHigh] = make(chan Item, high)
	q.lanes[LaneNormal] = make(chan Item, normal)
	q.lanes[LaneLow] = make(chan Item, low)
	return q
}

// Enqueue never blocks. A full lane returns domain.ErrQueueFull and the
// stored item stays pending for the next dispatch pass.
func (q *PriorityQueue) Enqueue(item Item) error {
	lane, ok := LaneFor(item.Priority)
	if !ok {
		return fmt.Errorf("unknown priority %q", item.Priority)
	}
	select {
	case q.lanes[lane] <- item:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

// Dequeue blocks until an item is available or ctx is cancelled, in which
// case it returns false.
func (q *PriorityQueue) Dequeue(ctx context.Context) (Item, bool) {
	select {
	case item := <-q.lanes[LaneHigh]:
		return item, true
	default:
	}

	select {
	case item := <-q.lanes[LaneHigh]:
		return item, true
	case item := <-q.lanes[LaneNormal]:
		return item, true
	case item := <-q.lanes[LaneLow]:
		return item, true
	case <-ctx.Done():
		return Item{}, false
	}
}

// Depths reports how many items wait in each lane.
func (q *PriorityQueue) Depths() (high, normal, low int) {
	return len(q.lanes[LaneHigh]), len(q.lanes[LaneNormal]), len(q.lanes[LaneLow])
}
