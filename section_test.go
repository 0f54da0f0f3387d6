package eit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSectionWritesBitExactSectionLength(t *testing.T) {
	svc := ServiceIDTriplet{OriginalNetworkID: 1, TransportStreamID: 2, ServiceID: 3}
	events := make([]byte, 20)
	sec, err := BuildSection(TableIDEITPFActual, svc.ServiceID, 0, true, 0, 1, svc.TransportStreamID, svc.OriginalNetworkID, 0, TableIDEITPFActual, events)
	require.NoError(t, err)

	wantLength := (sectionPreludeSize + len(events) + sectionCRCSize) - 3
	gotLength := int(sec[1]&0x0f)<<8 | int(sec[2])
	assert.Equal(t, wantLength, gotLength)
	assert.Equal(t, rawSectionLength(sec), gotLength)
	assert.True(t, validateCRC(sec))
}

func TestNewEmptySectionWritesBitExactSectionLength(t *testing.T) {
	svc := ServiceIDTriplet{OriginalNetworkID: 1, TransportStreamID: 2, ServiceID: 3}
	sec, err := NewEmptySection(TableIDEITPFActual, svc, 0, 1)
	require.NoError(t, err)

	assert.Len(t, sec, sectionPreludeSize+sectionCRCSize)
	wantLength := rawSectionLength(sec)
	gotLength := int(sec[1]&0x0f)<<8 | int(sec[2])
	assert.Equal(t, wantLength, gotLength)
	assert.True(t, validateCRC(sec))
}
