package eit

import (
	"bytes"
	"testing"
	"time"

	"github.com/icza/bitio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildEventRaw(t *testing.T, eventID uint16, start time.Time, dur time.Duration) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	w := bitio.NewWriter(buf)
	w.TryWriteBits(uint64(eventID), 16)
	require.NoError(t, writeDVBTime(w, start))
	require.NoError(t, writeDVBDuration(w, dur))
	w.TryWriteBits(0x7, 3)  // running_status
	w.TryWriteBool(false)   // free_CA_mode
	w.TryWriteBits(0, 12)   // descriptor_loop_length = 0
	require.NoError(t, w.TryError)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

var testSvc = ServiceIDTriplet{OriginalNetworkID: 1, TransportStreamID: 2, ServiceID: 100}

func TestDatabaseLoadEventsInsertsIntoSegment(t *testing.T) {
	db := NewDatabase()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	ev := buildEventRaw(t, 1, now.Add(time.Hour), time.Hour)

	err := db.LoadEvents(testSvc, ev, now, true)
	require.NoError(t, err)

	svc := db.Service(testSvc)
	require.NotNil(t, svc)
	require.Len(t, svc.Segments, 1)
	assert.Len(t, svc.Segments[0].Events, 1)
	assert.True(t, svc.Regenerate)
}

func TestDatabaseLoadEventsDiscardsPastEvents(t *testing.T) {
	db := NewDatabase()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	ev := buildEventRaw(t, 1, now.Add(-2*time.Hour), time.Hour) // ended an hour ago

	err := db.LoadEvents(testSvc, ev, now, true)
	require.NoError(t, err)
	svc := db.Service(testSvc)
	require.NotNil(t, svc)
	assert.Empty(t, svc.Segments)
}

func TestDatabaseLoadEventsDiscardsBeyondHorizon(t *testing.T) {
	db := NewDatabase()
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	ev := buildEventRaw(t, 1, now.Add(70*24*time.Hour), time.Hour)

	err := db.LoadEvents(testSvc, ev, now, true)
	require.NoError(t, err)
	svc := db.Service(testSvc)
	require.NotNil(t, svc)
	assert.Empty(t, svc.Segments)
}

func TestDatabaseLoadEventsDedupesIdenticalRecord(t *testing.T) {
	db := NewDatabase()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	ev := buildEventRaw(t, 1, now.Add(time.Hour), time.Hour)

	require.NoError(t, db.LoadEvents(testSvc, ev, now, true))
	require.NoError(t, db.LoadEvents(testSvc, ev, now, true))

	svc := db.Service(testSvc)
	assert.Len(t, svc.Segments[0].Events, 1)
}

func TestSaveEITsProducesPresentFollowingAndSchedule(t *testing.T) {
	db := NewDatabase()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	db.SetCurrentTime(now)

	svc := db.EnsureService(testSvc)
	svc.Actual = true

	ev := buildEventRaw(t, 1, now.Add(30*time.Minute), time.Hour)
	require.NoError(t, db.LoadEvents(testSvc, ev, now, true))

	sections, err := db.SaveEITs(GenAll, SatelliteProfile())
	require.NoError(t, err)
	require.NotEmpty(t, sections)

	sawPF := false
	sawSchedule := false
	for _, sec := range sections {
		if IsPresentFollowing(rawTableID(sec)) {
			sawPF = true
		} else {
			sawSchedule = true
		}
		assert.True(t, validateCRC(sec))
	}
	assert.True(t, sawPF)
	assert.True(t, sawSchedule)
}

func TestRegeneratePresentFollowingDisabledClearsSlots(t *testing.T) {
	db := NewDatabase()
	now := time.Date(2026, 7, 30, 10, 0, 0, 0, time.UTC)
	svc := db.EnsureService(testSvc)
	svc.Actual = true
	svc.PF[0] = &EITSection{Blob: []byte{0}}

	require.NoError(t, db.regeneratePresentFollowing(svc, now, Options(0)))
	assert.Nil(t, svc.PF[0])
	assert.Nil(t, svc.PF[1])
}

func TestToggleSectionActualFlipsTableID(t *testing.T) {
	sec, err := NewEmptySection(TableIDEITPFActual, testSvc, 0, 1)
	require.NoError(t, err)
	s := &EITSection{Blob: sec}
	toggleSectionActual(s)
	assert.Equal(t, TableIDEITPFOther, rawTableID(s.Blob))
	assert.True(t, validateCRC(s.Blob))
}
