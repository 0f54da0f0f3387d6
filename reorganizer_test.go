package eit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildPFSectionWithEvent(t *testing.T, svc ServiceIDTriplet, tableID uint8, ev []byte) []byte {
	t.Helper()
	sec, err := BuildSection(tableID, svc.ServiceID, 0, true, 0, 1, svc.TransportStreamID, svc.OriginalNetworkID, 0, tableID, ev)
	require.NoError(t, err)
	return sec
}

func TestReorganizeCopiesNonEITSectionsVerbatim(t *testing.T) {
	pat := []byte{0x00, 0xb0, 0x0d, 0, 1, 0xc1, 0, 0, 0, 0, 0, 0, 0, 0, 0}
	out, err := Reorganize([][]byte{pat}, time.Now(), true, GenAll)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, pat, out[0])
}

func TestReorganizeCoalescesPFFromMultipleEvents(t *testing.T) {
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	ev1 := buildEventRaw(t, 1, now.Add(-time.Hour), time.Hour)
	ev2 := buildEventRaw(t, 2, now, time.Hour)
	ev3 := buildEventRaw(t, 3, now.Add(time.Hour), time.Hour)

	sec := buildPFSectionWithEvent(t, testSvc, TableIDEITPFActual, ev1)
	sec2, err := BuildSection(TableIDEITPFActual, testSvc.ServiceID, 0, true, 1, 1, testSvc.TransportStreamID, testSvc.OriginalNetworkID, 1, TableIDEITPFActual, append(append([]byte{}, ev2...), ev3...))
	require.NoError(t, err)

	out, err := Reorganize([][]byte{sec, sec2}, now, true, GenAll)
	require.NoError(t, err)
	require.Len(t, out, 2)

	events0, err := SplitEventRecords(rawEventsPayload(out[0]))
	require.NoError(t, err)
	events1, err := SplitEventRecords(rawEventsPayload(out[1]))
	require.NoError(t, err)

	require.Len(t, events0, 1)
	require.Len(t, events1, 1)
	assert.Equal(t, uint16(2), events0[0].EventID)
	assert.Equal(t, uint16(3), events1[0].EventID)
}

func TestReorganizeBuildsScheduleWithValidCRCAndSyntheticFields(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	ev := buildEventRaw(t, 1, now.Add(5*time.Hour), time.Hour)
	sec := buildPFSectionWithEvent(t, testSvc, TableIDEITScheduleActualLow, ev)
	rawSetSectionNumber(sec, 0)

	out, err := Reorganize([][]byte{sec}, now, true, GenAll)
	require.NoError(t, err)
	require.NotEmpty(t, out)
	for _, s := range out {
		assert.True(t, validateCRC(s))
	}
}

func TestSetStandaloneSchedule(t *testing.T) {
	sec, err := NewEmptySection(TableIDEITScheduleActualLow+2, testSvc, 19, 23)
	require.NoError(t, err)

	standalone := SetStandaloneSchedule(sec)
	assert.Equal(t, uint8(0), rawSectionNumber(standalone))
	assert.Equal(t, uint8(0), rawLastSectionNumber(standalone))
	assert.Equal(t, uint8(0), rawSegmentLastSectionNumber(standalone))
	assert.Equal(t, TableIDEITScheduleActualLow+2, rawLastTableID(standalone))
	assert.True(t, validateCRC(standalone))
}
