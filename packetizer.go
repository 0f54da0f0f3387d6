package eit

// SectionProvider is the capability a Packetizer pulls sections from
// (spec §4.1). CyclingPacketizer and Injector implement it in this
// package, and the interface is kept narrow so a caller could drive a
// Packetizer directly from a static section list for tests or simple
// one-shot tools.
type SectionProvider interface {
	// ProvideSection returns the next section due for transmission, or
	// ok=false if nothing is currently due. counter is the TS packet
	// index this call is being made for.
	ProvideSection(counter uint64) (section []byte, ok bool)

	// DoStuffing reports whether the packetizer should pad the rest of
	// the current packet with 0xFF instead of packing another section
	// into the remaining room.
	DoStuffing() bool
}

// Packetizer turns a stream of variable-length sections into 188-byte TS
// packets on a fixed PID, with correct pointer_field, continuity counter
// and stuffing discipline (spec §4.1). It is the generic primitive that
// CyclingPacketizer (spec §4.2) builds on.
type Packetizer struct {
	// PID is the destination PID stamped on every non-null packet.
	PID uint16

	// AllowHeaderSplit controls whether a section header may straddle a
	// TS-packet boundary. Default false: some receivers choke on a
	// split section header, so by default the packetizer stuffs the
	// rest of the packet instead (spec §4.1 "Header-split policy").
	AllowHeaderSplit bool

	Provider SectionProvider

	cc          uint8
	packetCount uint64

	curSection []byte
	curOffset  int
}

// NewPacketizer creates a Packetizer on pid, fed by provider.
func NewPacketizer(pid uint16, provider SectionProvider) *Packetizer {
	return &Packetizer{PID: pid, Provider: provider}
}

// PacketCount returns the number of packets produced so far (including
// null packets), used by CyclingPacketizer to schedule due times.
func (p *Packetizer) PacketCount() uint64 { return p.packetCount }

// Reset drops any partial section in progress; the next call to
// NextPacket starts fresh (spec §4.1 "Reset").
func (p *Packetizer) Reset() {
	p.curSection = nil
	p.curOffset = 0
}

// headerSize returns the number of leading bytes of sec that must not be
// split across a packet boundary when AllowHeaderSplit is false: 8 for a
// long section (section_syntax_indicator set, as all EIT sections are),
// 3 for a short one.
func headerSize(sec []byte) int {
	if len(sec) > 1 && sec[1]&0x80 != 0 {
		return 8
	}
	return 3
}

// NextPacket fills one 188-byte TS packet, per spec §4.1.
func (p *Packetizer) NextPacket() (pkt []byte, wasReal bool) {
	counter := p.packetCount
	p.packetCount++

	pl := make([]byte, MpegTsPacketSize-4)
	// budget is the number of pl bytes this packet can actually hold. It
	// starts at the full body size and is cut by one the moment a section
	// starts in this packet, reserving the pointer_field byte that the
	// final assembly inserts at body[0].
	budget := len(pl)
	n := 0
	pusi := false
	pointerField := 0

	for n < budget {
		if p.curSection == nil {
			sec, ok := p.Provider.ProvideSection(counter)
			if !ok {
				break
			}

			headerRoom := budget - n
			if !pusi {
				headerRoom--
			}
			if n > 0 && !p.AllowHeaderSplit && headerRoom < headerSize(sec) {
				// Defer: hold the section for the next packet instead of
				// splitting its header across the boundary.
				p.curSection = sec
				p.curOffset = 0
				break
			}

			if !pusi {
				pusi = true
				pointerField = n
				budget--
			}
			p.curSection = sec
			p.curOffset = 0
			wasReal = true
		} else if p.curOffset == 0 && !pusi {
			// A section held back from the previous packet starts here.
			pusi = true
			pointerField = n
			budget--
		}

		remain := len(p.curSection) - p.curOffset
		room := budget - n
		take := remain
		if take > room {
			take = room
		}
		copy(pl[n:], p.curSection[p.curOffset:p.curOffset+take])
		p.curOffset += take
		n += take
		wasReal = true

		if p.curOffset < len(p.curSection) {
			// Packet is full mid-section; continue next call.
			break
		}

		p.curSection = nil
		p.curOffset = 0
		if n < budget && p.Provider.DoStuffing() {
			break
		}
	}

	if !wasReal {
		return NullPacket(), false
	}

	pkt = make([]byte, MpegTsPacketSize)
	writePacketHeader(pkt, p.PID, pusi, p.cc)
	p.cc = (p.cc + 1) & 0x0f

	body := pkt[4:]
	offset := 0
	if pusi {
		body[0] = byte(pointerField)
		offset = 1
	}
	copy(body[offset:], pl[:n])
	for i := offset + n; i < len(body); i++ {
		body[i] = 0xff
	}

	return pkt, true
}
