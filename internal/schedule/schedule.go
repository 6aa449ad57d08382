package schedule

import (
	"sort"

	"main/internal/schema"
	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

// Schedule maps timestamps to the ordered canonical events occurring at that
// instant. Keys are strictly ascending and unique per event after collision
// resolution. A Schedule is immutable once built; events synthesized during
// replay live in an overlay owned by the driver, never here.
type Schedule struct {
	keys   []int64
	events map[int64][]schema.Event
}

// Build canonicalizes raw-order events into a schedule:
//
//  1. stable-sort by timestamp, preserving arrival order among equals
//  2. resolve collisions by pushing each later event 1ns past its predecessor
//  3. keep events inside [startNano, endNano)
//  4. group by exact timestamp
//
// An empty post-filter result is fatal: there is no valid first wake-up.
func Build(events []schema.Event, startNano, endNano int64) (*Schedule, error) {
	if endNano <= startNano {
		return nil, errors.Wrap(exception.ErrInvalidArgument, "schedule window is empty")
	}

	ordered := make([]schema.Event, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].TsNano < ordered[j].TsNano
	})

	for i := 1; i < len(ordered); i++ {
		if ordered[i].TsNano <= ordered[i-1].TsNano {
			ordered[i].TsNano = ordered[i-1].TsNano + 1
		}
	}

	s := &Schedule{events: make(map[int64][]schema.Event)}
	for _, event := range ordered {
		if event.TsNano < startNano || event.TsNano >= endNano {
			continue
		}
		if _, ok := s.events[event.TsNano]; !ok {
			s.keys = append(s.keys, event.TsNano)
		}
		s.events[event.TsNano] = append(s.events[event.TsNano], event)
	}

	if len(s.keys) == 0 {
		return nil, exception.ErrEmptySchedule
	}
	return s, nil
}

// Keys returns the ascending wake-up timestamps as a fresh slice.
func (s *Schedule) Keys() []int64 {
	keys := make([]int64, len(s.keys))
	copy(keys, s.keys)
	return keys
}

// At returns the events scheduled at ts, in dispatch order.
func (s *Schedule) At(ts int64) []schema.Event {
	return s.events[ts]
}

// Has reports whether ts is a scheduled key.
func (s *Schedule) Has(ts int64) bool {
	_, ok := s.events[ts]
	return ok
}

// FirstKey returns the earliest scheduled timestamp.
func (s *Schedule) FirstKey() int64 {
	return s.keys[0]
}

// Len returns the number of distinct timestamps.
func (s *Schedule) Len() int {
	return len(s.keys)
}

// EventCount returns the total number of scheduled events.
func (s *Schedule) EventCount() int {
	n := 0
	for _, group := range s.events {
		n += len(group)
	}
	return n
}

// Equal reports whether two schedules hold the same keys in the same order
// with identical events.
func (s *Schedule) Equal(other *Schedule) bool {
	if s.Len() != other.Len() {
		return false
	}
	for i, key := range s.keys {
		if other.keys[i] != key {
			return false
		}
		a, b := s.events[key], other.events[key]
		if len(a) != len(b) {
			return false
		}
		for j := range a {
			if a[j] != b[j] {
				return false
			}
		}
	}
	return true
}
