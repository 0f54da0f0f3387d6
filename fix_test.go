package eit

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixTableAddMissingFillsAllGaps(t *testing.T) {
	sec0, err := NewEmptySection(TableIDEITScheduleActualLow, testSvc, 0, 9)
	require.NoError(t, err)
	sec9, err := NewEmptySection(TableIDEITScheduleActualLow, testSvc, 9, 9)
	require.NoError(t, err)

	table := make([][]byte, 10)
	table[0] = sec0
	table[9] = sec9

	out, err := FixSections(table, FixModeAddMissing)
	require.NoError(t, err)
	require.Len(t, out, 10)
	for i, s := range out {
		require.NotNilf(t, s, "section %d", i)
		assert.True(t, validateCRC(s))
	}
}

func TestFixTableFillSegmentsLeavesEmptySegmentAlone(t *testing.T) {
	sec0, err := NewEmptySection(TableIDEITScheduleActualLow, testSvc, 0, 17)
	require.NoError(t, err)
	sec17, err := NewEmptySection(TableIDEITScheduleActualLow, testSvc, 17, 17)
	require.NoError(t, err)

	// Segment 1 (sections 8..15) holds no section at all.
	table := make([][]byte, 18)
	table[0] = sec0
	table[17] = sec17

	out, err := FixSections(table, FixModeFillSegments)
	require.NoError(t, err)

	for i := 8; i < 16; i++ {
		assert.Nilf(t, out[i], "section %d of the untouched segment must stay a gap", i)
	}
	require.NotNil(t, out[17])
}

func TestFixTableFixExistingRewritesSyntheticFields(t *testing.T) {
	sec0, err := NewEmptySection(TableIDEITScheduleActualLow, testSvc, 0, 0)
	require.NoError(t, err)
	sec1, err := NewEmptySection(TableIDEITScheduleActualLow, testSvc, 1, 0)
	require.NoError(t, err)
	sec10, err := NewEmptySection(TableIDEITScheduleActualLow+1, testSvc, 10, 0)
	require.NoError(t, err)

	table := make([][]byte, 11)
	table[0] = sec0
	table[1] = sec1
	table[10] = sec10

	out, err := FixSections(table, FixModeFixExisting)
	require.NoError(t, err)

	for _, s := range out {
		if s == nil {
			continue
		}
		assert.True(t, validateCRC(s))
		assert.Equal(t, uint8(10), rawLastSectionNumber(s))
		assert.Equal(t, TableIDEITScheduleActualLow+1, rawLastTableID(s))
	}
	// Sections 2..7 are filled in first, so segment 0 ends at section 7.
	assert.Equal(t, uint8(7), rawSegmentLastSectionNumber(out[0]))
	assert.Equal(t, uint8(7), rawSegmentLastSectionNumber(out[1]))
	assert.Equal(t, uint8(10), rawSegmentLastSectionNumber(out[10]))
}

func TestFixTableAllNilReturnsUnchanged(t *testing.T) {
	table := make([][]byte, 5)
	out, err := FixSections(table, FixModeAddMissing)
	require.NoError(t, err)
	assert.Equal(t, table, out)
}
