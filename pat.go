package eit

// PATProgram is one program_number -> PMT PID mapping carried by a PAT
// section's program loop.
type PATProgram struct {
	ProgramNumber uint16
	ProgramMapPID uint16
}

// patHeaderSize is the generic 8-byte PSI long-section header (table_id
// through last_section_number); PAT carries no EIT-specific fixed part
// between that header and its program loop.
const patHeaderSize = 8

// ParsePAT decodes a PAT section's transport_stream_id (the long
// section's table_id_extension, spec §4.6 "TS id discovery") and its
// program loop.
func ParsePAT(sec []byte) (tsid uint16, programs []PATProgram, err error) {
	if len(sec) < patHeaderSize+sectionCRCSize {
		return 0, nil, ErrSectionTooShort
	}
	tsid = rawServiceID(sec) // table_id_extension sits at the same offset as EIT's service_id

	offset := patHeaderSize
	end := len(sec) - sectionCRCSize
	for offset+4 <= end {
		programs = append(programs, PATProgram{
			ProgramNumber: uint16(sec[offset])<<8 | uint16(sec[offset+1]),
			ProgramMapPID: uint16(sec[offset+2]&0x1f)<<8 | uint16(sec[offset+3]),
		})
		offset += 4
	}
	return tsid, programs, nil
}
