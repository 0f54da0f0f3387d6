package eit

import (
	"bytes"
	"time"
)

// updateVersion returns the next version number for (tableID, onid, tsid,
// svid, sectionNumber), per spec §4.5 "Version bumping": versions cycle
// mod 32 in a process-local map. Under SYNC_VERSIONS, sectionNumber is
// zeroed so every section of a subtable shares one counter.
func (db *Database) updateVersion(tableID uint8, onid, tsid, svid uint16, sectionNumber uint8, syncVersions bool) uint8 {
	key := versionKey{tableID: tableID, onid: onid, tsid: tsid, svid: svid, sectionNumber: sectionNumber}
	if syncVersions {
		key.sectionNumber = 0
	}
	next := (db.versions[key] + 1) % 32
	db.versions[key] = next
	return next
}

// toggleSectionActual flips a section between its actual/other table id
// in place, COW'd first (spec §4.5 "toggle_actual").
func toggleSectionActual(s *EITSection) {
	s.StartModifying()
	rawSetTableID(s.Blob, ToggleActual(rawTableID(s.Blob)))
	recomputeCRC(s.Blob)
}

// SetActual retargets every section owned by svc between the actual and
// other table id ranges, used when a service's transport stream identity
// changes (spec §4.6 "set_transport_stream_id").
func (svc *EService) SetActual(actual bool) {
	if svc.Actual == actual {
		return
	}
	svc.Actual = actual
	for _, pf := range svc.PF {
		if pf != nil {
			toggleSectionActual(pf)
		}
	}
	for _, seg := range svc.Segments {
		for _, s := range seg.Sections {
			toggleSectionActual(s)
		}
	}
}

// regeneratePresentFollowing rebuilds svc's two p/f sections from the
// first two upcoming events, per spec §4.5 "regenerate_present_following".
func (db *Database) regeneratePresentFollowing(svc *EService, now time.Time, opts Options) error {
	genPF := (svc.Actual && opts.Has(GenActualPF)) || (!svc.Actual && opts.Has(GenOtherPF))
	if !genPF {
		svc.PF[0] = nil
		svc.PF[1] = nil
		return nil
	}

	var slot [2]*Event
	count := 0
eventScan:
	for _, seg := range svc.Segments {
		for i := range seg.Events {
			if count >= 2 {
				break eventScan
			}
			slot[count] = &seg.Events[i]
			count++
		}
	}
	if count >= 1 && slot[0].StartTime.After(now) {
		slot[1] = slot[0]
		slot[0] = nil
	}

	tableID := TableIDEITPFActual
	if !svc.Actual {
		tableID = TableIDEITPFOther
	}

	var modified [2]bool
	for i := 0; i < 2; i++ {
		mod, err := db.regeneratePFSection(svc, i, tableID, slot[i], now, opts)
		if err != nil {
			return err
		}
		modified[i] = mod
	}

	if opts.Has(SyncVersions) && (modified[0] || modified[1]) {
		v := db.updateVersion(tableID, svc.ID.OriginalNetworkID, svc.ID.TransportStreamID, svc.ID.ServiceID, 0, true)
		for i := 0; i < 2; i++ {
			if svc.PF[i] != nil {
				svc.PF[i].StartModifying()
				rawSetVersion(svc.PF[i].Blob, v)
				recomputeCRC(svc.PF[i].Blob)
			}
		}
	}
	return nil
}

func (db *Database) regeneratePFSection(svc *EService, slot int, tableID uint8, ev *Event, now time.Time, opts Options) (bool, error) {
	var eventBytes []byte
	if ev != nil {
		eventBytes = ev.Raw
	}

	existing := svc.PF[slot]
	if existing != nil && rawTableID(existing.Blob) == tableID && bytes.Equal(rawEventsPayload(existing.Blob), eventBytes) {
		return false, nil
	}
	if existing != nil {
		existing.Obsolete = true
	}

	sec, err := BuildSection(tableID, svc.ID.ServiceID, 0, true, uint8(slot), 1, svc.ID.TransportStreamID, svc.ID.OriginalNetworkID, uint8(slot), tableID, eventBytes)
	if err != nil {
		return false, err
	}
	if !opts.Has(SyncVersions) {
		v := db.updateVersion(tableID, svc.ID.OriginalNetworkID, svc.ID.TransportStreamID, svc.ID.ServiceID, uint8(slot), false)
		rawSetVersion(sec, v)
		recomputeCRC(sec)
	}

	svc.PF[slot] = &EITSection{Blob: sec, NextInject: now}
	return true, nil
}

// fillSegmentGaps inserts empty placeholder segments so svc.Segments is
// contiguous at 3-hour spacing (spec §4.5 "regenerate_schedule" step 3).
func fillSegmentGaps(svc *EService) {
	i := 0
	for i+1 < len(svc.Segments) {
		want := svc.Segments[i].StartTime.Add(SegmentDuration)
		if svc.Segments[i+1].StartTime.After(want) {
			seg := &ESegment{StartTime: want, Regenerate: true}
			svc.Segments = append(svc.Segments, nil)
			copy(svc.Segments[i+2:], svc.Segments[i+1:])
			svc.Segments[i+1] = seg
		}
		i++
	}
}

// regenerateSchedule rebuilds every service's schedule sections that need
// it (spec §4.5 "regenerate_schedule").
func (db *Database) regenerateSchedule(now time.Time, opts Options) error {
	for _, svc := range db.orderedServices() {
		if !svc.Regenerate {
			continue
		}
		if err := db.regenerateServiceSchedule(svc, now, opts); err != nil {
			return err
		}
	}
	return nil
}

func (db *Database) regenerateServiceSchedule(svc *EService, now time.Time, opts Options) error {
	lastMidnight := thisMidnight(now)

	var kept []*ESegment
	for _, seg := range svc.Segments {
		if seg.StartTime.Before(lastMidnight) {
			for _, s := range seg.Sections {
				s.Obsolete = true
			}
			continue
		}
		kept = append(kept, seg)
	}
	for len(kept) > 0 {
		last := kept[len(kept)-1]
		if last.StartTime.After(lastMidnight) && len(last.Events) == 0 {
			for _, s := range last.Sections {
				s.Obsolete = true
			}
			kept = kept[:len(kept)-1]
			continue
		}
		break
	}
	svc.Segments = kept
	svc.findOrCreateSegment(lastMidnight)

	fillSegmentGaps(svc)

	modifiedSubtables := make(map[uint8]bool)

	for idx, seg := range svc.Segments {
		if !seg.Regenerate && len(seg.Sections) > 0 {
			continue
		}
		tableID := SegmentToTableID(svc.Actual, idx)
		firstSection := SegmentToSection(idx)
		changed, err := db.rebuildSegmentSections(svc, seg, tableID, firstSection, now, opts)
		if err != nil {
			return err
		}
		if changed {
			modifiedSubtables[tableID] = true
		}
		seg.Regenerate = false
	}

	db.fixSyntheticFields(svc)

	if opts.Has(SyncVersions) {
		db.syncScheduleVersions(svc, modifiedSubtables)
	}

	svc.Regenerate = false
	return nil
}

// rebuildSegmentSections repacks seg's events into sections starting at
// firstSection, reusing any existing section whose payload already
// matches the packing that would be chosen (spec §4.5 step 4.b-e).
func (db *Database) rebuildSegmentSections(svc *EService, seg *ESegment, tableID, firstSection uint8, now time.Time, opts Options) (bool, error) {
	var newSections []*EITSection
	changed := false
	cursor := 0
	secIdx := 0

	for secIdx < SegmentsPerSegmentSlots && cursor < len(seg.Events) {
		end := cursor
		size := 0
		for end < len(seg.Events) {
			evLen := len(seg.Events[end].Raw)
			if size+evLen > MaxSectionPayloadSize {
				break
			}
			size += evLen
			end++
		}
		if end == cursor {
			// A single event too large for any section; drop it.
			cursor++
			continue
		}

		var payload []byte
		for k := cursor; k < end; k++ {
			payload = append(payload, seg.Events[k].Raw...)
		}

		var existing *EITSection
		if secIdx < len(seg.Sections) {
			existing = seg.Sections[secIdx]
		}

		sectionNumber := firstSection + uint8(secIdx)
		if existing != nil && rawTableID(existing.Blob) == tableID && bytes.Equal(rawEventsPayload(existing.Blob), payload) {
			newSections = append(newSections, existing)
		} else {
			if existing != nil {
				existing.Obsolete = true
				changed = true
			}
			sec, err := BuildSection(tableID, svc.ID.ServiceID, 0, true, sectionNumber, sectionNumber, svc.ID.TransportStreamID, svc.ID.OriginalNetworkID, sectionNumber, tableID, payload)
			if err != nil {
				return false, err
			}
			if !opts.Has(SyncVersions) {
				v := db.updateVersion(tableID, svc.ID.OriginalNetworkID, svc.ID.TransportStreamID, svc.ID.ServiceID, sectionNumber, false)
				rawSetVersion(sec, v)
				recomputeCRC(sec)
			}
			newSections = append(newSections, &EITSection{Blob: sec, NextInject: now})
			changed = true
		}
		cursor = end
		secIdx++
	}

	for k := secIdx; k < len(seg.Sections); k++ {
		seg.Sections[k].Obsolete = true
		changed = true
	}

	if len(newSections) == 0 {
		var reuse *EITSection
		if len(seg.Sections) > 0 {
			reuse = seg.Sections[0]
		}
		if reuse != nil && rawTableID(reuse.Blob) == tableID && len(rawEventsPayload(reuse.Blob)) == 0 {
			newSections = append(newSections, reuse)
		} else {
			if reuse != nil {
				reuse.Obsolete = true
			}
			sec, err := NewEmptySection(tableID, svc.ID, firstSection, firstSection)
			if err != nil {
				return false, err
			}
			newSections = append(newSections, &EITSection{Blob: sec, NextInject: now})
			changed = true
		}
		for k := 1; k < len(seg.Sections); k++ {
			seg.Sections[k].Obsolete = true
		}
	}

	seg.Sections = newSections
	return changed, nil
}

// fixSyntheticFields patches last_section_number, segment_last_section_number
// and last_table_id across every schedule section of svc, walking segments
// from last to first (spec §4.5 step 5).
func (db *Database) fixSyntheticFields(svc *EService) {
	if len(svc.Segments) == 0 {
		return
	}
	var lastTableID uint8
	for i := len(svc.Segments) - 1; i >= 0; i-- {
		if len(svc.Segments[i].Sections) > 0 {
			lastTableID = rawTableID(svc.Segments[i].Sections[len(svc.Segments[i].Sections)-1].Blob)
			break
		}
	}

	var curTableID uint8
	var curLastSectionNumber uint8
	haveCur := false

	for i := len(svc.Segments) - 1; i >= 0; i-- {
		seg := svc.Segments[i]
		if len(seg.Sections) == 0 {
			continue
		}
		tid := rawTableID(seg.Sections[0].Blob)
		if !haveCur || tid != curTableID {
			curTableID = tid
			curLastSectionNumber = rawSectionNumber(seg.Sections[len(seg.Sections)-1].Blob)
			haveCur = true
		}

		segLastSectionNumber := rawSectionNumber(seg.Sections[len(seg.Sections)-1].Blob)
		for _, s := range seg.Sections {
			if rawSegmentLastSectionNumber(s.Blob) == segLastSectionNumber &&
				rawLastSectionNumber(s.Blob) == curLastSectionNumber &&
				rawLastTableID(s.Blob) == lastTableID {
				continue
			}
			s.StartModifying()
			rawSetSegmentLastSectionNumber(s.Blob, segLastSectionNumber)
			rawSetLastSectionNumber(s.Blob, curLastSectionNumber)
			rawSetLastTableID(s.Blob, lastTableID)
			recomputeCRC(s.Blob)
		}
	}
}

// syncScheduleVersions assigns one shared version per modified subtable,
// writing it into every section of that subtable (spec §4.5 step 6).
func (db *Database) syncScheduleVersions(svc *EService, modifiedSubtables map[uint8]bool) {
	for tableID := range modifiedSubtables {
		v := db.updateVersion(tableID, svc.ID.OriginalNetworkID, svc.ID.TransportStreamID, svc.ID.ServiceID, 0, true)
		for _, seg := range svc.Segments {
			for _, s := range seg.Sections {
				if rawTableID(s.Blob) != tableID {
					continue
				}
				s.StartModifying()
				rawSetVersion(s.Blob, v)
				recomputeCRC(s.Blob)
			}
		}
	}
}

// updateForNewTime advances svc's schedule state to now, dropping past
// segments/events and trimming beyond the 64-day horizon (spec §4.5
// "update_for_new_time").
func (db *Database) updateForNewTime(now time.Time, opts Options) error {
	lastMidnight := thisMidnight(now)
	curSegStart := SegmentStartTime(lastMidnight, now)
	horizon := lastMidnight.Add(time.Duration(HorizonDays) * 24 * time.Hour)

	for _, svc := range db.orderedServices() {
		if len(svc.Segments) > 0 && !svc.Segments[0].StartTime.Equal(lastMidnight) {
			svc.Regenerate = true
			db.Regenerate = true
		}

		var kept []*ESegment
		for _, seg := range svc.Segments {
			if seg.StartTime.Before(curSegStart) {
				if len(seg.Events) > 0 || len(seg.Sections) > 0 {
					for _, s := range seg.Sections {
						s.Obsolete = true
					}
					svc.Regenerate = true
				}
				continue
			}
			kept = append(kept, seg)
		}
		svc.Segments = kept

		if !opts.Has(LazySchedUpdate) {
			for _, seg := range svc.Segments {
				if !seg.StartTime.Equal(curSegStart) {
					continue
				}
				var remaining []Event
				removed := false
				for _, ev := range seg.Events {
					if !ev.EndTime.After(now) {
						removed = true
						continue
					}
					remaining = append(remaining, ev)
				}
				if removed {
					seg.Events = remaining
					seg.Regenerate = true
					svc.Regenerate = true
				}
				break
			}
		}

		var within []*ESegment
		for _, seg := range svc.Segments {
			if seg.StartTime.Before(horizon) {
				within = append(within, seg)
				continue
			}
			for _, s := range seg.Sections {
				s.Obsolete = true
			}
			svc.Regenerate = true
		}
		svc.Segments = within

		if err := db.regeneratePresentFollowing(svc, now, opts); err != nil {
			return err
		}
	}
	return nil
}
