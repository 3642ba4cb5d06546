package timers

import (
	"slices"
	"time"
)

// timerQueue is an ordered sequence of records sorted ascending by fire
// time. head caches the first record's fire time (zero when empty) so the
// pump loop and TimeUntilNext never rescan the slice. running guards
// against reentrant pumping of the same queue
type timerQueue struct {
	records []*record
	head    time.Time
	running bool
}

// insert splices r in front of the first record with a later fire time.
// Records with equal fire times keep insertion order
func (q *timerQueue) insert(r *record) {
	i := 0
	for ; i < len(q.records); i++ {
		if q.records[i].fireAt.After(r.fireAt) {
			break
		}
	}
	q.records = slices.Insert(q.records, i, r)
	if i == 0 {
		q.head = r.fireAt
	}
}

func (q *timerQueue) popHead() *record {
	r := q.records[0]
	q.records[0] = nil
	q.records = q.records[1:]
	q.refreshHead()
	return r
}

func (q *timerQueue) removeAt(i int) *record {
	r := q.records[i]
	q.records = slices.Delete(q.records, i, i+1)
	if i == 0 {
		q.refreshHead()
	}
	return r
}

// removeWhere removes records matching the predicate, up to limit of them
// (limit < 0 removes all matches), and returns how many were removed
func (q *timerQueue) removeWhere(match func(*record) bool, limit int) int {
	removed := 0
	kept := q.records[:0]
	for i, r := range q.records {
		if (limit < 0 || removed < limit) && match(r) {
			removed++
			continue
		}
		kept = append(kept, q.records[i])
	}
	for i := len(kept); i < len(q.records); i++ {
		q.records[i] = nil
	}
	q.records = kept
	if removed > 0 {
		q.refreshHead()
	}
	return removed
}

func (q *timerQueue) refreshHead() {
	if len(q.records) == 0 {
		q.head = time.Time{}
		return
	}
	q.head = q.records[0].fireAt
}

// due reports whether the head record is ready to fire at now
func (q *timerQueue) due(now time.Time) bool {
	return len(q.records) > 0 && !q.head.After(now)
}

// shift applies the same delta to every pending fire time. Sort order is
// preserved because the shift is uniform
func (q *timerQueue) shift(delta time.Duration) {
	for _, r := range q.records {
		r.fireAt = r.fireAt.Add(delta)
	}
	q.refreshHead()
}

func (q *timerQueue) len() int {
	return len(q.records)
}
