package eit

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/icza/bitio"
)

// EIT table id assignments (spec §3.3, §6.1).
const (
	TableIDEITPFActual        uint8 = 0x4e
	TableIDEITPFOther         uint8 = 0x4f
	TableIDEITScheduleActualLow  uint8 = 0x50
	TableIDEITScheduleActualHigh uint8 = 0x5f
	TableIDEITScheduleOtherLow   uint8 = 0x60
	TableIDEITScheduleOtherHigh  uint8 = 0x6f
)

// Fixed sizes from spec §3.3.
const (
	EITPayloadFixedSize = 6  // service_id..last_table_id, after the 8-byte long-section header
	EITEventFixedSize   = 12 // event_id..descriptor_loop_length, before the descriptor loop
	MaxSectionPayloadSize = 4093 // MAX_PRIVATE_LONG_SECTION_PAYLOAD_SIZE
)

// sectionPreludeSize is the 8-byte long-section header plus the 6-byte
// EIT-specific fixed part, before the event loop (spec §4.5).
const sectionPreludeSize = 8 + EITPayloadFixedSize

// sectionCRCSize is the trailing CRC32 on every long section.
const sectionCRCSize = 4

// IsEITTableID reports whether id falls in the EIT range 0x4E-0x6F.
func IsEITTableID(id uint8) bool {
	return id >= TableIDEITPFActual && id <= TableIDEITScheduleOtherHigh
}

// IsPresentFollowing reports whether id is a p/f table id (0x4E/0x4F).
func IsPresentFollowing(id uint8) bool {
	return id == TableIDEITPFActual || id == TableIDEITPFOther
}

// IsActualTableID reports whether id denotes "this transport stream"
// EIT data (as opposed to "other").
func IsActualTableID(id uint8) bool {
	return id == TableIDEITPFActual || (id >= TableIDEITScheduleActualLow && id <= TableIDEITScheduleActualHigh)
}

// ToggleActual flips id between its actual and other variant: p/f
// 0x4E<->0x4F, schedule id<->id±0x10 (spec §4.5 toggle_actual).
func ToggleActual(id uint8) uint8 {
	switch {
	case id == TableIDEITPFActual:
		return TableIDEITPFOther
	case id == TableIDEITPFOther:
		return TableIDEITPFActual
	case id >= TableIDEITScheduleActualLow && id <= TableIDEITScheduleActualHigh:
		return id + 0x10
	case id >= TableIDEITScheduleOtherLow && id <= TableIDEITScheduleOtherHigh:
		return id - 0x10
	default:
		return id
	}
}

// SegmentToTableID returns the schedule table id covering the given
// 0-based segment index, for the requested actual/other half (spec §4.3).
func SegmentToTableID(actual bool, segment int) uint8 {
	if segment > TotalSegments-1 {
		segment = TotalSegments - 1
	}
	base := TableIDEITScheduleOtherLow
	if actual {
		base = TableIDEITScheduleActualLow
	}
	return base + uint8(segment/SegmentsPerSubtable)
}

// SegmentToSection returns the section_number of the first section of
// the given 0-based segment index within its subtable (spec §4.3).
func SegmentToSection(segment int) uint8 {
	return uint8((segment % SegmentsPerSubtable) * SegmentsPerSegmentSlots)
}

// SegmentsPerSegmentSlots is the number of sections reserved per segment
// inside a subtable (spec §3.3: "Sections per segment").
const SegmentsPerSegmentSlots = 8

// --- raw section field accessors -------------------------------------------------
//
// An EIT section blob is addressed directly by byte offset, mirroring the
// teacher's own parsePSISectionHeader/parseEITSection field walking
// (data_psi.go, data_eit.go) but used here in both directions: decoding
// input sections and patching sections the generator owns. Operating on
// the wire bytes directly (instead of keeping a parallel decoded struct in
// sync) is what lets §4.5's COW discipline stay a single "clone this
// slice" operation instead of a deep structural copy.

func rawTableID(b []byte) uint8 { return b[0] }

func rawSetTableID(b []byte, v uint8) { b[0] = v }

func rawServiceID(b []byte) uint16 { return binary.BigEndian.Uint16(b[3:5]) }

func rawVersion(b []byte) uint8 { return (b[5] >> 1) & 0x1f }

func rawSetVersion(b []byte, v uint8) {
	b[5] = (b[5] & 0xc1) | ((v & 0x1f) << 1)
}

func rawCurrentNext(b []byte) bool { return b[5]&0x01 != 0 }

func rawSectionNumber(b []byte) uint8 { return b[6] }

func rawSetSectionNumber(b []byte, v uint8) { b[6] = v }

func rawLastSectionNumber(b []byte) uint8 { return b[7] }

func rawSetLastSectionNumber(b []byte, v uint8) { b[7] = v }

func rawTransportStreamID(b []byte) uint16 { return binary.BigEndian.Uint16(b[8:10]) }

func rawOriginalNetworkID(b []byte) uint16 { return binary.BigEndian.Uint16(b[10:12]) }

func rawSegmentLastSectionNumber(b []byte) uint8 { return b[12] }

func rawSetSegmentLastSectionNumber(b []byte, v uint8) { b[12] = v }

func rawLastTableID(b []byte) uint8 { return b[13] }

func rawSetLastTableID(b []byte, v uint8) { b[13] = v }

// rawEventsPayload returns the slice view of the event loop (between the
// fixed prelude and the trailing CRC32). Callers must not retain it past
// the next mutation of b.
func rawEventsPayload(b []byte) []byte {
	return b[sectionPreludeSize : len(b)-sectionCRCSize]
}

func rawSectionLength(b []byte) int { return len(b) - 3 }

func rawSetSectionLength(b []byte, length int) {
	b[1] = 0xf0 | byte((length>>8)&0x0f)
	b[2] = byte(length)
}

// recomputeCRC patches the trailing CRC32 of a fully-populated section.
func recomputeCRC(b []byte) {
	crc := computeCRC32(b[:len(b)-sectionCRCSize])
	binary.BigEndian.PutUint32(b[len(b)-sectionCRCSize:], crc)
}

// validateCRC reports whether b's trailing CRC32 matches its content.
func validateCRC(b []byte) bool {
	if len(b) < sectionPreludeSize+sectionCRCSize {
		return false
	}
	want := binary.BigEndian.Uint32(b[len(b)-sectionCRCSize:])
	got := computeCRC32(b[:len(b)-sectionCRCSize])
	return want == got
}

// BuildSection assembles a complete EIT section from its header fields
// plus an already-encoded event loop, computing section_length and
// CRC32. Grounded on the teacher's writePSISectionSyntaxHeader
// (data_psi.go), generalized from PAT/PMT header fields to the EIT long-
// section layout of spec §6.1.
func BuildSection(
	tableID uint8,
	serviceID uint16,
	version uint8,
	currentNext bool,
	sectionNumber, lastSectionNumber uint8,
	tsID, onID uint16,
	segmentLastSectionNumber, lastTableID uint8,
	eventsPayload []byte,
) ([]byte, error) {
	if len(eventsPayload) > MaxSectionPayloadSize-EITPayloadFixedSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrSectionOversized, len(eventsPayload))
	}

	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)

	w.TryWriteByte(tableID)

	// section_length counts every byte after the 12-bit length field itself:
	// the 5 header bytes written below (service_id, version/current_next,
	// section_number, last_section_number) plus the 6-byte EIT-specific
	// prelude, the event loop, and the trailing CRC32.
	length := 5 + EITPayloadFixedSize + len(eventsPayload) + sectionCRCSize
	w.TryWriteBool(true)  // section_syntax_indicator
	w.TryWriteBool(true)  // private_indicator
	w.TryWriteBits(0x3, 2) // reserved
	w.TryWriteBits(uint64(length), 12)

	w.TryWriteBits(uint64(serviceID), 16)

	w.TryWriteBits(0x3, 2) // reserved
	w.TryWriteBits(uint64(version&0x1f), 5)
	w.TryWriteBool(currentNext)

	w.TryWriteByte(sectionNumber)
	w.TryWriteByte(lastSectionNumber)

	w.TryWriteBits(uint64(tsID), 16)
	w.TryWriteBits(uint64(onID), 16)

	w.TryWriteByte(segmentLastSectionNumber)
	w.TryWriteByte(lastTableID)

	if err := w.TryError; err != nil {
		return nil, fmt.Errorf("eit: writing section prelude: %w", err)
	}

	buf.Write(eventsPayload)
	buf.Write([]byte{0, 0, 0, 0}) // CRC placeholder

	raw := buf.Bytes()
	recomputeCRC(raw)
	return raw, nil
}

// NewEmptySection builds a section with no events: just the 14-byte
// prelude and its CRC (spec §4.5 "Empty section construction").
func NewEmptySection(tableID uint8, svc ServiceIDTriplet, sectionNumber, lastSectionNumber uint8) ([]byte, error) {
	return BuildSection(
		tableID, svc.ServiceID, 0, true,
		sectionNumber, lastSectionNumber,
		svc.TransportStreamID, svc.OriginalNetworkID,
		sectionNumber, tableID,
		nil,
	)
}

// Event is one EIT event record: its identity, its decoded time window,
// and the full on-wire record (event_id through descriptor-loop end),
// kept opaque per spec §3.4 so descriptor payloads round-trip bit-exact.
type Event struct {
	EventID   uint16
	StartTime time.Time
	EndTime   time.Time
	Raw       []byte
}

// ParseEvent decodes one event record's header (event id, start time,
// duration) without touching its descriptor loop.
func ParseEvent(raw []byte) (Event, error) {
	if len(raw) < EITEventFixedSize {
		return Event{}, ErrSectionTooShort
	}
	r := bitio.NewCountReader(bytes.NewReader(raw))

	e := Event{Raw: raw}
	e.EventID = uint16(r.TryReadBits(16))

	start, err := parseDVBTime(r)
	if err != nil {
		return Event{}, fmt.Errorf("eit: parsing event start time: %w", err)
	}
	e.StartTime = start

	dur, err := parseDVBDuration(r)
	if err != nil {
		return Event{}, fmt.Errorf("eit: parsing event duration: %w", err)
	}
	e.EndTime = start.Add(dur)

	if r.TryError != nil {
		return Event{}, fmt.Errorf("eit: parsing event record: %w", r.TryError)
	}
	return e, nil
}

// SplitEventRecords walks a concatenation of raw event records (as found
// in a section's event loop, or a caller-supplied raw_event_bytes buffer
// per spec §4.4) and returns one Event per record. If the buffer ends
// mid-record, the events parsed so far are returned alongside
// ErrTruncatedEventData (spec §7).
func SplitEventRecords(buf []byte) ([]Event, error) {
	var events []Event
	offset := 0
	for offset < len(buf) {
		if offset+EITEventFixedSize > len(buf) {
			return events, fmt.Errorf("%w: %d bytes left, need %d", ErrTruncatedEventData, len(buf)-offset, EITEventFixedSize)
		}
		descLen := int(binary.BigEndian.Uint16(buf[offset+10:offset+12]) & 0x0fff)
		recLen := EITEventFixedSize + descLen
		if offset+recLen > len(buf) {
			return events, fmt.Errorf("%w: record needs %d bytes, %d left", ErrTruncatedEventData, recLen, len(buf)-offset)
		}

		ev, err := ParseEvent(buf[offset : offset+recLen])
		if err != nil {
			return events, fmt.Errorf("eit: splitting event records: %w", err)
		}
		events = append(events, ev)
		offset += recLen
	}
	return events, nil
}

// encodeEventHeader rewrites the event_id/start_time/duration prefix of a
// raw event record, for an event synthesized rather than copied verbatim
// from input. No function of this package calls it. The descriptor loop
// bytes (raw[12:]) are left untouched.
func encodeEventHeader(dst []byte, e Event) error {
	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)
	w.TryWriteBits(uint64(e.EventID), 16)
	if err := writeDVBTime(w, e.StartTime); err != nil {
		return err
	}
	if err := writeDVBDuration(w, e.EndTime.Sub(e.StartTime)); err != nil {
		return err
	}
	if err := w.TryError; err != nil {
		return err
	}
	copy(dst, buf.Bytes())
	return nil
}
