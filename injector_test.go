package eit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInjectorSetTransportStreamIDTogglesServices(t *testing.T) {
	db := NewDatabase()
	svc := db.EnsureService(ServiceIDTriplet{OriginalNetworkID: 1, TransportStreamID: 2, ServiceID: 3})
	svc.Actual = false

	inj := NewInjector(PIDEIT, GenAll, SatelliteProfile(), db)
	inj.SetTransportStreamID(2)

	assert.True(t, svc.Actual)
}

func TestInjectorProvideSectionEmitsPresentFollowing(t *testing.T) {
	db := NewDatabase()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)

	svc := db.EnsureService(testSvc)
	svc.Actual = true
	ev := buildEventRaw(t, 1, now.Add(30*time.Minute), time.Hour)
	require.NoError(t, db.LoadEvents(testSvc, ev, now, true))

	inj := NewInjector(PIDEIT, GenAll, SatelliteProfile(), db)
	inj.SetCurrentTime(now)

	sec, ok := inj.ProvideSection(0)
	require.True(t, ok)
	assert.True(t, IsPresentFollowing(rawTableID(sec)))
}

func TestInjectorDoStuffingReflectsOption(t *testing.T) {
	db := NewDatabase()
	inj := NewInjector(PIDEIT, PacketStuffing, SatelliteProfile(), db)
	assert.True(t, inj.DoStuffing())

	inj2 := NewInjector(PIDEIT, Options(0), SatelliteProfile(), db)
	assert.False(t, inj2.DoStuffing())
}

func TestInjectorProcessPacketNullifiesEITPID(t *testing.T) {
	db := NewDatabase()
	inj := NewInjector(PIDEIT, Options(0), SatelliteProfile(), db)

	pkt := make([]byte, MpegTsPacketSize)
	writePacketHeader(pkt, PIDEIT, false, 0)

	out := inj.ProcessPacket(pkt)
	h, err := ParsePacketHeader(out)
	require.NoError(t, err)
	assert.Equal(t, PIDNull, h.PID)
}

func TestInjectorGetCurrentTimeExtrapolatesWithBitrate(t *testing.T) {
	db := NewDatabase()
	inj := NewInjector(PIDEIT, Options(0), SatelliteProfile(), db)
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	inj.SetCurrentTime(now)
	inj.SetBitrate(188*8*1000, 1000) // 1000 packets/sec nominal

	inj.packetIndex = 1000
	got := inj.GetCurrentTime()
	assert.WithinDuration(t, now.Add(time.Second), got, 5*time.Millisecond)
}
