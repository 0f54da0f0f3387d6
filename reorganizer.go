package eit

import (
	"bytes"
	"sort"
	"time"
)

// reorgKey groups input sections by the service identity and
// actual/other direction they belong to.
type reorgKey struct {
	tsid, onid, svid uint16
	actual           bool
}

func (k reorgKey) triplet() ServiceIDTriplet {
	return ServiceIDTriplet{OriginalNetworkID: k.onid, TransportStreamID: k.tsid, ServiceID: k.svid}
}

// Reorganize rebuilds an arbitrary bag of EIT sections into canonical
// form, per spec §4.7: non-EIT sections pass through verbatim and first;
// every service's p/f pair is coalesced to two sections; every service's
// schedule is rebuilt from the events recovered from the input sections.
// opts is not consulted.
func Reorganize(sections [][]byte, ref time.Time, hasRef bool, opts Options) ([][]byte, error) {
	var out [][]byte
	groups := make(map[reorgKey][]Event)
	var order []reorgKey

	for _, sec := range sections {
		tid := rawTableID(sec)
		if !IsEITTableID(tid) {
			out = append(out, sec)
			continue
		}
		key := reorgKey{
			tsid:   rawTransportStreamID(sec),
			onid:   rawOriginalNetworkID(sec),
			svid:   rawServiceID(sec),
			actual: IsActualTableID(tid),
		}
		events, _ := SplitEventRecords(rawEventsPayload(sec))
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], events...)
	}

	for _, key := range order {
		events := dedupeAndSortEvents(groups[key])
		svc := key.triplet()

		lastMidnight := thisMidnight(ref)
		if !hasRef {
			if oldest, ok := oldestEventStartOf(events); ok {
				lastMidnight = thisMidnight(oldest)
			}
		}

		pf, err := buildReorgPF(svc, key.actual, events)
		if err != nil {
			return nil, err
		}
		out = append(out, pf...)

		sched, err := buildReorgSchedule(svc, key.actual, events, lastMidnight)
		if err != nil {
			return nil, err
		}
		out = append(out, sched...)
	}

	return out, nil
}

func dedupeAndSortEvents(events []Event) []Event {
	sorted := make([]Event, len(events))
	copy(sorted, events)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].StartTime.Before(sorted[j].StartTime) })

	var out []Event
	for _, e := range sorted {
		if len(out) > 0 && out[len(out)-1].EventID == e.EventID && bytes.Equal(out[len(out)-1].Raw, e.Raw) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func oldestEventStartOf(events []Event) (time.Time, bool) {
	if len(events) == 0 {
		return time.Time{}, false
	}
	oldest := events[0].StartTime
	for _, e := range events[1:] {
		if e.StartTime.Before(oldest) {
			oldest = e.StartTime
		}
	}
	return oldest, true
}

// buildReorgPF coalesces events into exactly one p/f subtable of two
// sections, per spec §4.7.
func buildReorgPF(svc ServiceIDTriplet, actual bool, events []Event) ([][]byte, error) {
	tableID := TableIDEITPFActual
	if !actual {
		tableID = TableIDEITPFOther
	}

	var present, following []byte
	switch len(events) {
	case 0:
	case 1:
		present = events[0].Raw
	default:
		present = events[len(events)-2].Raw
		following = events[len(events)-1].Raw
	}

	sec0, err := BuildSection(tableID, svc.ServiceID, 0, true, 0, 1, svc.TransportStreamID, svc.OriginalNetworkID, 0, tableID, present)
	if err != nil {
		return nil, err
	}
	sec1, err := BuildSection(tableID, svc.ServiceID, 0, true, 1, 1, svc.TransportStreamID, svc.OriginalNetworkID, 1, tableID, following)
	if err != nil {
		return nil, err
	}
	return [][]byte{sec0, sec1}, nil
}

// packEventSegment packs events (already restricted to one segment) into
// up to SegmentsPerSegmentSlots payloads of at most MaxSectionPayloadSize
// bytes each. Events that cannot fit into any section are dropped.
func packEventSegment(events []Event) [][]byte {
	var payloads [][]byte
	cursor := 0
	for len(payloads) < SegmentsPerSegmentSlots && cursor < len(events) {
		end := cursor
		size := 0
		for end < len(events) {
			evLen := len(events[end].Raw)
			if size+evLen > MaxSectionPayloadSize {
				break
			}
			size += evLen
			end++
		}
		if end == cursor {
			cursor++
			continue
		}
		var payload []byte
		for k := cursor; k < end; k++ {
			payload = append(payload, events[k].Raw...)
		}
		payloads = append(payloads, payload)
		cursor = end
	}
	return payloads
}

// buildReorgSchedule rebuilds every schedule section of one service from
// scratch, per spec §4.7.
func buildReorgSchedule(svc ServiceIDTriplet, actual bool, events []Event, lastMidnight time.Time) ([][]byte, error) {
	var kept []Event
	for _, e := range events {
		if e.StartTime.Before(lastMidnight) {
			continue
		}
		kept = append(kept, e)
	}

	bySegment := make(map[int][]Event)
	maxSegment := -1
	for _, e := range kept {
		idx := SegmentIndex(lastMidnight, e.StartTime)
		if idx >= TotalSegments {
			continue
		}
		bySegment[idx] = append(bySegment[idx], e)
		if idx > maxSegment {
			maxSegment = idx
		}
	}

	var out [][]byte
	// segBounds[i] = [start,end) range in out belonging to segment i, and
	// its table id; lets the final pass patch per-segment and per-subtable
	// fields without re-deriving boundaries from section numbers.
	type segBounds struct {
		tableID    uint8
		start, end int
	}
	var segs []segBounds

	for idx := 0; idx <= maxSegment; idx++ {
		tableID := SegmentToTableID(actual, idx)
		firstSection := SegmentToSection(idx)
		payloads := packEventSegment(bySegment[idx])
		if len(payloads) == 0 {
			payloads = [][]byte{nil}
		}

		start := len(out)
		for i, payload := range payloads {
			sectionNumber := firstSection + uint8(i)
			sec, err := BuildSection(tableID, svc.ServiceID, 0, true, sectionNumber, sectionNumber, svc.TransportStreamID, svc.OriginalNetworkID, sectionNumber, tableID, payload)
			if err != nil {
				return nil, err
			}
			out = append(out, sec)
		}
		segs = append(segs, segBounds{tableID: tableID, start: start, end: len(out)})
	}

	if len(out) == 0 {
		return out, nil
	}

	lastTableID := segs[len(segs)-1].tableID

	// Walk segments from last to first, grouping consecutive ones that
	// share a table id into one subtable run.
	i := len(segs) - 1
	for i >= 0 {
		j := i
		for j >= 0 && segs[j].tableID == segs[i].tableID {
			j--
		}
		subtableStart, subtableEnd := j+1, i
		lastSectionNumber := rawSectionNumber(out[segs[subtableEnd].end-1])

		for s := subtableStart; s <= subtableEnd; s++ {
			segLastSectionNumber := rawSectionNumber(out[segs[s].end-1])
			for n := segs[s].start; n < segs[s].end; n++ {
				rawSetSegmentLastSectionNumber(out[n], segLastSectionNumber)
				rawSetLastSectionNumber(out[n], lastSectionNumber)
				rawSetLastTableID(out[n], lastTableID)
				recomputeCRC(out[n])
			}
		}
		i = subtableStart - 1
	}

	return out, nil
}

// SetStandaloneSchedule returns a copy of a schedule section, rewritten
// so it is a self-contained 1-section subtable (spec §4.7).
func SetStandaloneSchedule(sec []byte) []byte {
	out := make([]byte, len(sec))
	copy(out, sec)
	rawSetSectionNumber(out, 0)
	rawSetLastSectionNumber(out, 0)
	rawSetSegmentLastSectionNumber(out, 0)
	rawSetLastTableID(out, rawTableID(out))
	recomputeCRC(out)
	return out
}
