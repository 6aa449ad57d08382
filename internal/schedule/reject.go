package schedule

import (
	"sort"
	"time"

	"main/internal/schema"
)

// compensationDelayNano is how long after a rejection the venue's forced
// unwind fires.
const compensationDelayNano = int64(2 * time.Second)

// SynthesizeCompensations keeps only rejection records and pairs each with a
// synthesized compensation event: same size, direction flipped, scheduled two
// seconds after the reject, with an order id offset by the largest reject id
// so the two id spaces stay disjoint. All non-reject records are dropped from
// the replay stream. The combined rows come back sorted by (timestamp, order
// id), ready for Build's joint collision resolution.
func SynthesizeCompensations(events []schema.Event) []schema.Event {
	var (
		rejects []schema.Event
		maxID   int64
	)
	for _, event := range events {
		if event.Kind != schema.KindReject {
			continue
		}
		if event.Size < 0 {
			event.Size = -event.Size
		}
		if event.OrderID > maxID {
			maxID = event.OrderID
		}
		rejects = append(rejects, event)
	}

	combined := make([]schema.Event, 0, 2*len(rejects))
	combined = append(combined, rejects...)
	for _, reject := range rejects {
		combined = append(combined, schema.Event{
			TsNano:    reject.TsNano + compensationDelayNano,
			OrderID:   reject.OrderID + maxID,
			Size:      reject.Size,
			Price:     reject.Price,
			Direction: reject.Direction.Flip(),
			Kind:      schema.KindCompensation,
		})
	}

	sort.SliceStable(combined, func(i, j int) bool {
		if combined[i].TsNano != combined[j].TsNano {
			return combined[i].TsNano < combined[j].TsNano
		}
		return combined[i].OrderID < combined[j].OrderID
	})
	return combined
}
