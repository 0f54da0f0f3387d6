package eit

import "sort"

// StuffingPolicy controls how aggressively CyclingPacketizer pads packets
// with 0xFF instead of packing more sections back to back (spec §4.2
// "Stuffing policy").
type StuffingPolicy int

const (
	// StuffingNever packs sections as tightly as packet room allows.
	StuffingNever StuffingPolicy = iota
	// StuffingAtEndOfCycle pads only once every section has been sent at
	// least once in the current cycle, to smooth out the last few
	// packets of a cycle rather than bursting them.
	StuffingAtEndOfCycle
	// StuffingAlways pads every packet after exactly one section.
	StuffingAlways
)

// cyclingEntry is one section tracked by a CyclingPacketizer, whether
// scheduled by bitrate/repetition-rate or carried round-robin.
type cyclingEntry struct {
	section      []byte
	repetitionMS int // 0 for unscheduled (other) entries
	dueAt        uint64
	lastPacket   uint64
	lastCycle    uint64
	tableID      uint8
	tableIDExt   uint16
	sectionNum   uint8
}

// CyclingPacketizer repeats a live set of sections on a PID, honoring each
// section's repetition rate when the PID's bitrate is known, and falling
// back to round-robin cycling otherwise (spec §4.2). It implements
// SectionProvider and drives an embedded Packetizer.
type CyclingPacketizer struct {
	pktzr *Packetizer

	bitrate  int // bits/sec, 0 = unknown
	stuffing StuffingPolicy

	scheduled []*cyclingEntry // due-ordered
	other     []*cyclingEntry // round-robin queue

	sectionCount  int
	remainInCycle int
	cycleNumber   uint64

	cycleEnd      uint64
	cycleEndValid bool
	lastCounter   uint64

	lastOther *cyclingEntry
}

// NewCyclingPacketizer creates a CyclingPacketizer on pid with the given
// stuffing policy. Bitrate starts unknown (0): add sections with
// SetBitrate once it is known to enable rate-scheduled repetition.
func NewCyclingPacketizer(pid uint16, policy StuffingPolicy) *CyclingPacketizer {
	cp := &CyclingPacketizer{stuffing: policy, cycleNumber: 1}
	cp.pktzr = NewPacketizer(pid, cp)
	return cp
}

// NextPacket produces the next TS packet, per spec §4.1/§4.2.
func (cp *CyclingPacketizer) NextPacket() (pkt []byte, wasReal bool) {
	return cp.pktzr.NextPacket()
}

// Reset drops any in-flight partial section in the underlying Packetizer.
func (cp *CyclingPacketizer) Reset() { cp.pktzr.Reset() }

// packetsIn converts a repetition period into a packet count at the
// current PID bitrate, per spec §4.2 "packets_in". Returns 0 when the
// bitrate or period is unknown, meaning "not rate-scheduled".
func packetsIn(bitrateBps, repetitionMS int) int {
	if bitrateBps <= 0 || repetitionMS <= 0 {
		return 0
	}
	bits := int64(bitrateBps) * int64(repetitionMS) / 1000
	packets := bits / (MpegTsPacketSize * 8)
	if packets < 1 {
		packets = 1
	}
	return int(packets)
}

// entryLess orders scheduled entries by due time, then groups same-
// subtable entries by ascending section number, per spec §4.2 "Insertion
// ordering in scheduled_sections". Ties across different subtables at the
// same due time keep insertion order (new entries inserted earlier win),
// favoring subtable diversity over any particular secondary key.
func entryLess(a, b *cyclingEntry) bool {
	if a.dueAt != b.dueAt {
		return a.dueAt < b.dueAt
	}
	if a.tableID == b.tableID && a.tableIDExt == b.tableIDExt {
		return a.sectionNum < b.sectionNum
	}
	return false
}

func (cp *CyclingPacketizer) insertScheduled(e *cyclingEntry) {
	cp.scheduled = append([]*cyclingEntry{e}, cp.scheduled...)
	sort.SliceStable(cp.scheduled, func(i, j int) bool {
		return entryLess(cp.scheduled[i], cp.scheduled[j])
	})
}

// AddSection registers a section for repeated transmission. repetitionMS
// is its target repetition period in milliseconds; 0 means "no specific
// rate", carried round-robin instead (spec §4.2 "Adding a section").
func (cp *CyclingPacketizer) AddSection(section []byte, repetitionMS int) {
	e := &cyclingEntry{
		section:      section,
		repetitionMS: repetitionMS,
		tableID:      rawTableID(section),
		tableIDExt:   rawServiceID(section),
		sectionNum:   rawSectionNumber(section),
	}

	cp.sectionCount++
	cp.remainInCycle++

	if repetitionMS > 0 && cp.bitrate > 0 {
		e.dueAt = cp.pktzr.PacketCount()
		cp.insertScheduled(e)
	} else {
		cp.other = append(cp.other, e)
	}
}

// RemoveSections drops every tracked section matching tableID (and, when
// matchExt is true, tableIDExt) from both the scheduled and round-robin
// sets (spec §4.2 "Removing sections").
func (cp *CyclingPacketizer) RemoveSections(tableID uint8, tableIDExt uint16, matchExt bool) {
	match := func(e *cyclingEntry) bool {
		return e.tableID == tableID && (!matchExt || e.tableIDExt == tableIDExt)
	}

	filterOut := func(list []*cyclingEntry) []*cyclingEntry {
		kept := list[:0]
		for _, e := range list {
			if match(e) {
				cp.sectionCount--
				if cp.remainInCycle > 0 {
					cp.remainInCycle--
				}
				continue
			}
			kept = append(kept, e)
		}
		return kept
	}

	cp.scheduled = filterOut(cp.scheduled)
	cp.other = filterOut(cp.other)
	if cp.lastOther != nil && match(cp.lastOther) {
		cp.lastOther = nil
	}
}

// scheduledPacketsSum approximates how many packets a full pass over the
// scheduled set takes, used by the force-unscheduled starvation check.
func (cp *CyclingPacketizer) scheduledPacketsSum() uint64 {
	var sum uint64
	for _, e := range cp.scheduled {
		sum += uint64(packetsIn(cp.bitrate, e.repetitionMS))
	}
	return sum
}

// SetBitrate updates the PID's known bitrate, re-scheduling or demoting
// entries as needed (spec §4.2 "Bitrate changes"). Passing 0 forgets the
// bitrate and moves every scheduled entry to round-robin.
func (cp *CyclingPacketizer) SetBitrate(newBitrate int) {
	if newBitrate == cp.bitrate {
		return
	}
	counter := cp.pktzr.PacketCount()

	switch {
	case newBitrate == 0:
		cp.other = append(cp.other, cp.scheduled...)
		cp.scheduled = nil

	case cp.bitrate == 0:
		var promoted []*cyclingEntry
		var keep []*cyclingEntry
		for _, e := range cp.other {
			if e.repetitionMS > 0 {
				promoted = append(promoted, e)
			} else {
				keep = append(keep, e)
			}
		}
		cp.other = keep
		cp.bitrate = newBitrate
		for _, e := range promoted {
			e.dueAt = counter
			cp.insertScheduled(e)
		}

	default:
		cp.bitrate = newBitrate
		rescheduled := cp.scheduled
		cp.scheduled = nil
		for _, e := range rescheduled {
			e.dueAt = e.lastPacket + uint64(packetsIn(newBitrate, e.repetitionMS))
			cp.insertScheduled(e)
		}
	}

	cp.bitrate = newBitrate
}

// forceUnscheduled reports whether a round-robin section must be sent now
// even though a scheduled one is due, because round-robin content is
// being starved (spec §4.2 "force_unscheduled").
func (cp *CyclingPacketizer) forceUnscheduled(counter uint64) bool {
	if len(cp.other) == 0 || len(cp.scheduled) == 0 || cp.lastOther == nil {
		return false
	}
	oneCycleBehind := cp.lastOther.lastCycle+1 == cp.cycleNumber
	starved := cp.lastOther.lastPacket+uint64(packetsIn(cp.bitrate, cp.lastOther.repetitionMS))+cp.scheduledPacketsSum() < counter
	return oneCycleBehind || starved
}

// markEmitted records counter as e's last transmission and advances the
// cycle bookkeeping the first time e is sent within a new cycle.
func (cp *CyclingPacketizer) markEmitted(e *cyclingEntry, counter uint64) {
	e.lastPacket = counter
	if e.lastCycle != cp.cycleNumber {
		e.lastCycle = cp.cycleNumber
		if cp.remainInCycle > 0 {
			cp.remainInCycle--
		}
		if cp.remainInCycle == 0 {
			cp.cycleEnd = counter
			cp.cycleEndValid = true
			cp.cycleNumber++
			cp.remainInCycle = cp.sectionCount
		}
	}
}

// ProvideSection implements SectionProvider, selecting the next due
// section per spec §4.2 "Section selection".
func (cp *CyclingPacketizer) ProvideSection(counter uint64) ([]byte, bool) {
	cp.cycleEndValid = false
	cp.lastCounter = counter

	force := cp.forceUnscheduled(counter)

	if !force && len(cp.scheduled) > 0 && cp.scheduled[0].dueAt <= counter {
		e := cp.scheduled[0]
		cp.scheduled = cp.scheduled[1:]
		e.dueAt = counter + uint64(maxInt(1, packetsIn(cp.bitrate, e.repetitionMS)))
		cp.insertScheduled(e)
		cp.markEmitted(e, counter)
		return e.section, true
	}

	if len(cp.other) > 0 {
		e := cp.other[0]
		cp.other = append(cp.other[1:], e)
		cp.lastOther = e
		cp.markEmitted(e, counter)
		return e.section, true
	}

	if len(cp.scheduled) > 0 && cp.scheduled[0].dueAt <= counter {
		e := cp.scheduled[0]
		cp.scheduled = cp.scheduled[1:]
		e.dueAt = counter + uint64(maxInt(1, packetsIn(cp.bitrate, e.repetitionMS)))
		cp.insertScheduled(e)
		cp.markEmitted(e, counter)
		return e.section, true
	}

	return nil, false
}

// DoStuffing implements SectionProvider per spec §4.2 "Stuffing policy".
func (cp *CyclingPacketizer) DoStuffing() bool {
	switch {
	case cp.sectionCount == 0:
		return true
	case cp.stuffing == StuffingAlways:
		return true
	case cp.stuffing == StuffingAtEndOfCycle:
		return cp.remainInCycle == cp.sectionCount
	default:
		return false
	}
}

// AtCycleBoundary reports whether the most recent ProvideSection call
// completed a full cycle (spec §4.2 "at_cycle_boundary").
func (cp *CyclingPacketizer) AtCycleBoundary() bool {
	return cp.cycleEndValid && cp.cycleEnd == cp.lastCounter
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
