package task

import (
	"sort"
	"time"
)

// Evictor bounds the registry to Max records, dropping the oldest by
// created_at first. Unless IncludeInFlight is set only terminal records are
// eligible, so a pending or processing task never loses its result.
type Evictor struct {
	Max             int
	IncludeInFlight bool
}

func (e Evictor) eligible(t Task) bool {
	return e.IncludeInFlight || t.Status.Terminal()
}

// Enforce trims the registry to Max records and returns what it removed.
func (e Evictor) Enforce(r *Registry) []Task {
	return e.trimTo(r, e.Max)
}

// MakeRoom trims the registry so one more record fits under Max. It reports
// false when nothing eligible could be removed.
func (e Evictor) MakeRoom(r *Registry) ([]Task, bool) {
	removed := e.trimTo(r, e.Max-1)
	return removed, r.Len() < e.Max
}

func (e Evictor) trimTo(r *Registry, limit int) []Task {
	if limit < 0 {
		limit = 0
	}
	return r.compact(func(snapshot []Task) []string {
		return oldestExcess(snapshot, limit, e.eligible)
	})
}

// oldestExcess picks the oldest eligible records to remove so that at most
// limit records remain.
func oldestExcess(snapshot []Task, limit int, eligible func(Task) bool) []string {
	excess := len(snapshot) - limit
	if excess <= 0 {
		return nil
	}

	sort.Slice(snapshot, func(i, j int) bool {
		return newer(snapshot[j], snapshot[i])
	})

	ids := make([]string, 0, excess)
	for _, t := range snapshot {
		if len(ids) == excess {
			break
		}
		if eligible(t) {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// expiredBefore selects terminal records completed before cutoff.
func expiredBefore(cutoff time.Time) func(Task) bool {
	return func(t Task) bool {
		return t.Status.Terminal() && t.CompletedAt.Before(cutoff)
	}
}

func terminal(t Task) bool {
	return t.Status.Terminal()
}
