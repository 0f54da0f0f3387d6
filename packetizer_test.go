package eit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// staticProvider feeds a fixed slice of sections once each, in order, and
// asks for stuffing after each section only when stuff is set.
type staticProvider struct {
	sections [][]byte
	stuff    bool
}

func (p *staticProvider) ProvideSection(counter uint64) ([]byte, bool) {
	if len(p.sections) == 0 {
		return nil, false
	}
	s := p.sections[0]
	p.sections = p.sections[1:]
	return s, true
}

func (p *staticProvider) DoStuffing() bool { return p.stuff }

func smallSection(t *testing.T, n int) []byte {
	t.Helper()
	triplet := ServiceIDTriplet{OriginalNetworkID: 1, TransportStreamID: 2, ServiceID: 3}
	sec, err := NewEmptySection(TableIDEITPFActual, triplet, uint8(n), uint8(n))
	require.NoError(t, err)
	return sec
}

func TestPacketizerEmptyProviderYieldsNullPacket(t *testing.T) {
	p := NewPacketizer(PIDEIT, &staticProvider{})
	pkt, real := p.NextPacket()
	assert.False(t, real)
	assert.Equal(t, PIDNull, uint16(pkt[1]&0x1f)<<8|uint16(pkt[2]))
}

func TestPacketizerSingleSectionSetsPUSIAndPointerField(t *testing.T) {
	sec := smallSection(t, 0)
	p := NewPacketizer(PIDEIT, &staticProvider{sections: [][]byte{sec}, stuff: true})
	pkt, real := p.NextPacket()
	require.True(t, real)

	h, err := ParsePacketHeader(pkt)
	require.NoError(t, err)
	assert.Equal(t, PIDEIT, h.PID)
	assert.True(t, h.PayloadUnitStartIndicator)

	payload := pkt[4:]
	pointerField := payload[0]
	assert.Equal(t, byte(0), pointerField)
	assert.Equal(t, sec, payload[1:1+len(sec)])
}

func TestPacketizerPacksMultipleSectionsWhenNoStuffing(t *testing.T) {
	s1 := smallSection(t, 0)
	s2 := smallSection(t, 1)
	p := NewPacketizer(PIDEIT, &staticProvider{sections: [][]byte{s1, s2}, stuff: false})
	pkt, real := p.NextPacket()
	require.True(t, real)

	payload := pkt[4:]
	pointerField := int(payload[0])
	assert.Equal(t, 0, pointerField)
	assert.Equal(t, s1, payload[1:1+len(s1)])
	assert.Equal(t, s2, payload[1+len(s1):1+len(s1)+len(s2)])
}

func TestPacketizerSpansSectionAcrossPackets(t *testing.T) {
	big := make([]byte, 400)
	triplet := ServiceIDTriplet{OriginalNetworkID: 1, TransportStreamID: 2, ServiceID: 3}
	events := make([]byte, 400-sectionPreludeSize-sectionCRCSize)
	sec, err := BuildSection(TableIDEITPFActual, triplet.ServiceID, 0, true, 0, 0, triplet.TransportStreamID, triplet.OriginalNetworkID, 0, TableIDEITPFActual, events)
	require.NoError(t, err)
	_ = big

	p := NewPacketizer(PIDEIT, &staticProvider{sections: [][]byte{sec}, stuff: true})

	pkt1, real1 := p.NextPacket()
	require.True(t, real1)
	h1, err := ParsePacketHeader(pkt1)
	require.NoError(t, err)
	assert.True(t, h1.PayloadUnitStartIndicator)

	pkt2, real2 := p.NextPacket()
	require.True(t, real2)
	h2, err := ParsePacketHeader(pkt2)
	require.NoError(t, err)
	assert.False(t, h2.PayloadUnitStartIndicator)
}

func TestPacketizerReassemblesSpanningSectionWithoutTruncation(t *testing.T) {
	triplet := ServiceIDTriplet{OriginalNetworkID: 1, TransportStreamID: 2, ServiceID: 3}
	events := make([]byte, 600-sectionPreludeSize-sectionCRCSize)
	for i := range events {
		events[i] = byte(i)
	}
	sec, err := BuildSection(TableIDEITScheduleActualLow, triplet.ServiceID, 0, true, 0, 0, triplet.TransportStreamID, triplet.OriginalNetworkID, 0, TableIDEITScheduleActualLow, events)
	require.NoError(t, err)
	require.True(t, validateCRC(sec))

	p := NewPacketizer(PIDEIT, &staticProvider{sections: [][]byte{sec}, stuff: true})

	var reassembled []byte
	for i := 0; i < 10 && len(reassembled) < len(sec); i++ {
		pkt, real := p.NextPacket()
		require.True(t, real)
		h, err := ParsePacketHeader(pkt)
		require.NoError(t, err)
		payload := pkt[4:]
		if h.PayloadUnitStartIndicator {
			pointerField := int(payload[0])
			reassembled = append(reassembled, payload[1+pointerField:]...)
		} else {
			reassembled = append(reassembled, payload...)
		}
	}
	require.GreaterOrEqual(t, len(reassembled), len(sec))
	assert.Equal(t, sec, reassembled[:len(sec)])
}

func TestPacketizerContinuityCounterIncrementsOnlyOnRealPackets(t *testing.T) {
	sec := smallSection(t, 0)
	prov := &staticProvider{sections: [][]byte{sec}, stuff: true}
	p := NewPacketizer(PIDEIT, prov)

	pkt1, real1 := p.NextPacket()
	require.True(t, real1)
	h1, _ := ParsePacketHeader(pkt1)

	pkt2, real2 := p.NextPacket()
	require.False(t, real2)
	h2, _ := ParsePacketHeader(pkt2)

	assert.Equal(t, h1.ContinuityCounter, uint8(0))
	assert.NotEqual(t, h1.PID, h2.PID) // second is a null packet
}

func TestPacketizerResetDropsPartialSection(t *testing.T) {
	events := make([]byte, 400-sectionPreludeSize-sectionCRCSize)
	triplet := ServiceIDTriplet{OriginalNetworkID: 1, TransportStreamID: 2, ServiceID: 3}
	sec, err := BuildSection(TableIDEITPFActual, triplet.ServiceID, 0, true, 0, 0, triplet.TransportStreamID, triplet.OriginalNetworkID, 0, TableIDEITPFActual, events)
	require.NoError(t, err)

	p := NewPacketizer(PIDEIT, &staticProvider{sections: [][]byte{sec}, stuff: true})
	_, real := p.NextPacket()
	require.True(t, real)
	assert.NotNil(t, p.curSection)

	p.Reset()
	assert.Nil(t, p.curSection)
}
