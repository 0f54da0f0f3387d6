package eit

import (
	"bytes"
	"time"

	"github.com/icza/bitio"
)

// sectionGapDefault is the minimum spacing enforced between two sections
// sharing the same (table_id, table_id_extension), per spec §4.6
// "Section-gap enforcement". DVB requires at least 25ms; 30ms is the
// default headroom.
const sectionGapDefault = 30 * time.Millisecond

// Injector is the time-driven engine that regenerates EIT sections as
// events and the virtual clock advance, and feeds them to a PID via a
// Packetizer (spec §4.6). It implements SectionProvider itself.
type Injector struct {
	PID     uint16
	Options Options
	Profile RepetitionProfile
	DB      *Database

	pktzr *Packetizer

	tsID      TransportStreamID
	tsIDKnown bool

	refTime    time.Time
	refTimePkt uint64

	tsBitrate     int
	maxEITBitrate int
	eitInterPkt   uint64

	packetIndex    uint64
	lastEITPkt     uint64
	haveLastEITPkt bool

	queues [numRepetitionClasses][]*EITSection

	lastTableID    uint8
	lastTableIDExt uint16
	haveLastInject bool

	obsoleteSinceGC int

	sectionGap time.Duration
}

// NewInjector creates an Injector targeting pid, wiring itself as the
// section provider of a fresh Packetizer.
func NewInjector(pid uint16, opts Options, profile RepetitionProfile, db *Database) *Injector {
	inj := &Injector{
		PID:        pid,
		Options:    opts,
		Profile:    profile,
		DB:         db,
		sectionGap: sectionGapDefault,
	}
	inj.pktzr = NewPacketizer(pid, inj)
	return inj
}

// SetBitrate updates the known TS bitrate and the EIT PID's bitrate cap,
// recomputing eit_inter_pkt (spec §4.6 "Bitrate plumbing").
func (inj *Injector) SetBitrate(tsBitrate, maxEITBitrate int) {
	inj.tsBitrate = tsBitrate
	inj.maxEITBitrate = maxEITBitrate
	if tsBitrate > 0 && maxEITBitrate > 0 {
		inj.eitInterPkt = uint64(tsBitrate / maxEITBitrate)
	} else {
		inj.eitInterPkt = 0
	}
}

// SetCurrentTime forces the virtual clock, anchored at the current
// packet index (spec §4.6 "Clock").
func (inj *Injector) SetCurrentTime(now time.Time) {
	inj.refTime = now
	inj.refTimePkt = inj.packetIndex
}

// GetCurrentTime returns the injector's current virtual clock, extrapolated
// from the last known time using the TS bitrate.
func (inj *Injector) GetCurrentTime() time.Time {
	if inj.refTime.IsZero() {
		return inj.refTime
	}
	if inj.tsBitrate <= 0 {
		return inj.refTime
	}
	elapsedPkts := inj.packetIndex - inj.refTimePkt
	bits := elapsedPkts * MpegTsPacketSize * 8
	return inj.refTime.Add(time.Duration(bits) * time.Second / time.Duration(inj.tsBitrate))
}

// SetTransportStreamID records the actual transport stream identity and
// retargets services' actual/other classification (spec §4.6
// "set_transport_stream_id"). A service is left as it is when Options
// lacks the full GenActual (for a new actual service) or GenOther (for a
// new other service) pair of bits.
func (inj *Injector) SetTransportStreamID(tsID uint16) {
	inj.tsID = TransportStreamID{TransportStreamID: tsID, OriginalNetworkID: inj.tsID.OriginalNetworkID}
	inj.tsIDKnown = true
	for _, svc := range inj.DB.orderedServices() {
		actual := svc.ID.TransportStreamID == tsID
		wantActual := actual && inj.Options.Has(GenActual)
		wantOther := !actual && inj.Options.Has(GenOther)
		if !wantActual && !wantOther {
			continue
		}
		svc.SetActual(actual)
	}
}

// OnPAT is the demux callback for PID 0x00: infers the transport stream
// id from the PAT's table_id_extension, if not already known.
func (inj *Injector) OnPAT(sec []byte) {
	if inj.tsIDKnown {
		return
	}
	tsid, _, err := ParsePAT(sec)
	if err != nil {
		return
	}
	inj.SetTransportStreamID(tsid)
}

// OnTimeSection is the demux callback for TDT/TOT (PID 0x14): both carry
// a 40-bit UTC time field starting right after the short-section header.
func (inj *Injector) OnTimeSection(sec []byte) {
	if len(sec) < 8 {
		return
	}
	r := bitio.NewCountReader(bytes.NewReader(sec[3:8]))
	t, err := parseDVBTime(r)
	if err == nil {
		inj.SetCurrentTime(t)
	}
}

// OnEITSection is the demux callback for input EIT sections, active only
// under the LOAD_INPUT option (spec §4.6 "Wired collaborators").
func (inj *Injector) OnEITSection(sec []byte) {
	if !inj.Options.Has(LoadInput) {
		return
	}
	_ = inj.DB.LoadEventsFromSection(sec, inj.GetCurrentTime(), !inj.refTime.IsZero())
	if !inj.tsIDKnown && IsActualTableID(rawTableID(sec)) {
		inj.SetTransportStreamID(rawTransportStreamID(sec))
	}
}

// ProcessPacket implements spec §4.6 "Per-packet processing": it feeds
// input sections on watched PIDs to the demux callbacks, and on the EIT
// PID or the null PID, asks the packetizer for a replacement packet.
func (inj *Injector) ProcessPacket(pkt []byte) []byte {
	defer func() { inj.packetIndex++ }()

	h, err := ParsePacketHeader(pkt)
	if err != nil {
		return pkt
	}

	if h.PayloadUnitStartIndicator {
		inj.demuxInputSection(pkt, h)
	}

	out := pkt
	if h.PID == inj.PID {
		out = NullPacket()
	}

	if h.PID == inj.PID || h.PID == PIDNull {
		due := inj.eitInterPkt == 0 || !inj.haveLastEITPkt || inj.packetIndex >= inj.lastEITPkt+inj.eitInterPkt
		if due {
			candidate, real := inj.pktzr.NextPacket()
			if real {
				out = candidate
				inj.lastEITPkt = inj.packetIndex
				inj.haveLastEITPkt = true
			}
		}
	}

	return out
}

func (inj *Injector) demuxInputSection(pkt []byte, h *PacketHeader) {
	offset := PayloadOffset(h)
	if offset >= len(pkt) {
		return
	}
	_, secStart := PointerField(pkt, offset)
	if secStart >= len(pkt) {
		return
	}
	sec := pkt[secStart:]

	switch {
	case h.PID == PIDPAT:
		inj.OnPAT(sec)
	case h.PID == PIDTDT:
		inj.OnTimeSection(sec)
	case h.PID == inj.PID && inj.Options.Has(LoadInput) && IsEITTableID(rawTableID(sec)):
		inj.OnEITSection(sec)
	}
}

// reconcileQueues ensures every live section tracked by the database sits
// in exactly one injection queue, per spec §3.6. New or replaced sections
// surface here rather than being pushed eagerly by the section builder,
// keeping the database free of any injector-shaped dependency.
func (inj *Injector) reconcileQueues() {
	tracked := make(map[*EITSection]bool)
	for _, q := range inj.queues {
		for _, s := range q {
			tracked[s] = true
		}
	}

	enqueue := func(s *EITSection) {
		if s == nil || s.Obsolete || tracked[s] {
			return
		}
		class := inj.Profile.ClassifySection(rawTableID(s.Blob), rawSectionNumber(s.Blob))
		inj.insertQueued(int(class), s)
		tracked[s] = true
	}

	for _, svc := range inj.DB.orderedServices() {
		for _, pf := range svc.PF {
			enqueue(pf)
		}
		for _, seg := range svc.Segments {
			for _, s := range seg.Sections {
				enqueue(s)
			}
		}
	}
}

func (inj *Injector) insertQueued(class int, s *EITSection) {
	q := inj.queues[class]
	i := 0
	for i < len(q) && !q[i].NextInject.After(s.NextInject) {
		i++
	}
	q = append(q, nil)
	copy(q[i+1:], q[i:])
	q[i] = s
	inj.queues[class] = q
}

// enforceSectionGap bumps any section sharing the previously-injected
// (table_id, table_id_extension) that is due within sectionGap, per spec
// §4.6 "Section-gap enforcement".
func (inj *Injector) enforceSectionGap(now time.Time) {
	if !inj.haveLastInject {
		return
	}
	k := 0
	for _, q := range inj.queues {
		for _, s := range q {
			if rawTableID(s.Blob) != inj.lastTableID || rawServiceID(s.Blob) != inj.lastTableIDExt {
				continue
			}
			if s.NextInject.Sub(now) < inj.sectionGap && !s.NextInject.Before(now) {
				k++
				s.NextInject = now.Add(inj.sectionGap * time.Duration(k+1))
			}
		}
	}
}

// maybeGC sweeps obsolete entries out of every queue once the obsolete
// counter exceeds 100 (spec §4.6 "Obsolete-section GC").
func (inj *Injector) maybeGC() {
	if inj.obsoleteSinceGC <= 100 {
		return
	}
	for i, q := range inj.queues {
		kept := q[:0]
		for _, s := range q {
			if !s.Obsolete {
				kept = append(kept, s)
			}
		}
		inj.queues[i] = kept
	}
	inj.obsoleteSinceGC = 0
}

// ProvideSection implements SectionProvider: the packetizer callback that
// drives regeneration and selects the next due section (spec §4.6
// "provide_section").
func (inj *Injector) ProvideSection(counter uint64) ([]byte, bool) {
	now := inj.GetCurrentTime()
	_ = inj.DB.updateForNewTime(now, inj.Options)
	_ = inj.DB.regenerateSchedule(now, inj.Options)

	inj.reconcileQueues()
	inj.enforceSectionGap(now)

	for qi := 0; qi < numRepetitionClasses; qi++ {
		for len(inj.queues[qi]) > 0 && !inj.queues[qi][0].NextInject.After(now) {
			head := inj.queues[qi][0]
			inj.queues[qi] = inj.queues[qi][1:]

			if head.Obsolete {
				inj.obsoleteSinceGC++
				inj.maybeGC()
				continue
			}

			head.Injected = true
			cycle := time.Duration(inj.Profile.CycleSecondsFor(RepetitionClass(qi))) * time.Second
			head.NextInject = now.Add(cycle)
			inj.insertQueued(qi, head)

			inj.lastTableID = rawTableID(head.Blob)
			inj.lastTableIDExt = rawServiceID(head.Blob)
			inj.haveLastInject = true

			return head.Blob, true
		}
	}
	return nil, false
}

// DoStuffing implements SectionProvider per the PACKET_STUFFING option.
func (inj *Injector) DoStuffing() bool {
	return inj.Options.Has(PacketStuffing)
}
