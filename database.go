package eit

import (
	"bytes"
	"sort"
	"time"

	"golang.org/x/exp/slices"
)

// EITSection is one tracked section blob, shared between the event
// database and the active packetizer (spec §3.5, §5). Injected marks
// that the packetizer may still hold a reference to Blob; any mutation
// must go through StartModifying first.
type EITSection struct {
	Obsolete   bool
	Injected   bool
	NextInject time.Time
	Blob       []byte
}

// StartModifying gives the caller exclusive ownership of the section's
// blob, cloning it first if the packetizer might still be reading the
// shared copy (spec §4.5 "Copy-on-write discipline").
func (s *EITSection) StartModifying() {
	if !s.Injected {
		return
	}
	clone := make([]byte, len(s.Blob))
	copy(clone, s.Blob)
	s.Blob = clone
	s.Injected = false
}

// ESegment is one 3-hour slot of a service's schedule (spec §3.5).
type ESegment struct {
	StartTime  time.Time
	Regenerate bool
	Events     []Event
	Sections   []*EITSection
}

// EService is one service's EIT state: its two present/following slots
// and its ordered segments (spec §3.5).
type EService struct {
	ID         ServiceIDTriplet
	Actual     bool
	Regenerate bool
	PF         [2]*EITSection
	Segments   []*ESegment
}

// findOrCreateSegment returns the segment starting exactly at start,
// creating and inserting it in time order if absent.
func (svc *EService) findOrCreateSegment(start time.Time) *ESegment {
	i := sort.Search(len(svc.Segments), func(i int) bool {
		return !svc.Segments[i].StartTime.Before(start)
	})
	if i < len(svc.Segments) && svc.Segments[i].StartTime.Equal(start) {
		return svc.Segments[i]
	}
	seg := &ESegment{StartTime: start}
	svc.Segments = append(svc.Segments, nil)
	copy(svc.Segments[i+1:], svc.Segments[i:])
	svc.Segments[i] = seg
	return seg
}

// insertEvent inserts ev into seg's event list in start-time order,
// dropping a silent duplicate: same event_id and identical raw bytes
// already present at the position it would land in (spec §4.4 step 4).
func (seg *ESegment) insertEvent(ev Event) {
	i := sort.Search(len(seg.Events), func(i int) bool {
		return !seg.Events[i].StartTime.Before(ev.StartTime)
	})
	if i < len(seg.Events) && seg.Events[i].EventID == ev.EventID && bytes.Equal(seg.Events[i].Raw, ev.Raw) {
		return
	}
	seg.Events = append(seg.Events, Event{})
	copy(seg.Events[i+1:], seg.Events[i:])
	seg.Events[i] = ev
}

// Database is the root EIT event store: services keyed by their
// ServiceIDTriplet, plus the process-local version counters used by
// section regeneration (spec §3.5, §4.5 "Version bumping").
type Database struct {
	Services map[uint64]*EService

	Regenerate bool // global regeneration flag, set whenever any service changes

	refTime    time.Time
	refTimeSet bool

	versions map[versionKey]uint8
}

type versionKey struct {
	tableID       uint8
	onid, tsid    uint16
	svid          uint16
	sectionNumber uint8
}

// NewDatabase returns an empty event database.
func NewDatabase() *Database {
	return &Database{
		Services: make(map[uint64]*EService),
		versions: make(map[versionKey]uint8),
	}
}

// Service looks up a service by identity, or nil if unknown.
func (db *Database) Service(id ServiceIDTriplet) *EService {
	return db.Services[id.Key()]
}

// EnsureService returns the service for id, creating it if necessary.
func (db *Database) EnsureService(id ServiceIDTriplet) *EService {
	if s, ok := db.Services[id.Key()]; ok {
		return s
	}
	s := &EService{ID: id}
	db.Services[id.Key()] = s
	return s
}

// orderedServices returns every service sorted by identity key, for
// deterministic output ordering from SaveEITs.
func (db *Database) orderedServices() []*EService {
	out := make([]*EService, 0, len(db.Services))
	for _, s := range db.Services {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *EService) bool { return a.ID.Key() < b.ID.Key() })
	return out
}

// SetCurrentTime forces the database's reference clock, as an explicit
// alternative to letting SaveEITs derive it from the oldest event.
func (db *Database) SetCurrentTime(now time.Time) {
	db.refTime = now
	db.refTimeSet = true
}

// oldestEventStart returns the earliest event start_time across every
// service's segments, used to seed the reference clock (spec §4.4
// "save_eits").
func (db *Database) oldestEventStart() (time.Time, bool) {
	var oldest time.Time
	found := false
	for _, svc := range db.Services {
		for _, seg := range svc.Segments {
			for _, ev := range seg.Events {
				if !found || ev.StartTime.Before(oldest) {
					oldest = ev.StartTime
					found = true
				}
			}
		}
	}
	return oldest, found
}

// LoadEvents parses a concatenation of raw event records and merges them
// into svc's segments (spec §4.4 "load_events(service_id, raw_event_bytes)").
// now/nowKnown gate the "already over" and "beyond schedule horizon"
// discards; when nowKnown is false, no event is discarded on either
// ground save for the 64-day horizon, measured from the event's own day.
func (db *Database) LoadEvents(id ServiceIDTriplet, raw []byte, now time.Time, nowKnown bool) error {
	events, splitErr := SplitEventRecords(raw)

	svc := db.EnsureService(id)
	changed := false

	for _, ev := range events {
		if nowKnown && !ev.EndTime.After(now) {
			continue
		}

		baseline := ev.StartTime
		if nowKnown {
			baseline = now
		}
		lastMidnight := thisMidnight(baseline)

		if ev.StartTime.Sub(lastMidnight) >= time.Duration(HorizonDays)*24*time.Hour {
			continue
		}

		segStart := SegmentStartTime(lastMidnight, ev.StartTime)
		seg := svc.findOrCreateSegment(segStart)
		before := len(seg.Events)
		seg.insertEvent(ev)
		if len(seg.Events) != before {
			seg.Regenerate = true
			changed = true
		}
	}

	if changed {
		svc.Regenerate = true
		db.Regenerate = true
	}

	return splitErr
}

// LoadEventsFromSection decodes a known EIT section and merges its event
// loop into the database (spec §4.4 "load_events(section)").
func (db *Database) LoadEventsFromSection(sec []byte, now time.Time, nowKnown bool) error {
	if !IsEITTableID(rawTableID(sec)) {
		return ErrInvalidTableID
	}
	id := ServiceIDTriplet{
		OriginalNetworkID: rawOriginalNetworkID(sec),
		TransportStreamID: rawTransportStreamID(sec),
		ServiceID:         rawServiceID(sec),
	}
	return db.LoadEvents(id, rawEventsPayload(sec), now, nowKnown)
}

// SaveEITs regenerates every stale section and returns the full live
// section set in wire order: all p/f sections (services × present,
// following), then all schedule sections (services × segments ×
// sections), per spec §4.4 "save_eits".
func (db *Database) SaveEITs(opts Options, profile RepetitionProfile) ([][]byte, error) {
	if !db.refTimeSet {
		if oldest, ok := db.oldestEventStart(); ok {
			db.refTime = oldest
		}
		db.refTimeSet = true
	}
	now := db.refTime

	if err := db.updateForNewTime(now, opts); err != nil {
		return nil, err
	}
	if err := db.regenerateSchedule(now, opts); err != nil {
		return nil, err
	}

	var out [][]byte
	for _, svc := range db.orderedServices() {
		for _, pf := range svc.PF {
			if pf != nil && !pf.Obsolete {
				out = append(out, pf.Blob)
			}
		}
	}
	for _, svc := range db.orderedServices() {
		for _, seg := range svc.Segments {
			for _, sec := range seg.Sections {
				if sec != nil && !sec.Obsolete {
					out = append(out, sec.Blob)
				}
			}
		}
	}
	return out, nil
}
