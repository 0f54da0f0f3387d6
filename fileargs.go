package eit

import (
	"fmt"
	"strconv"
	"time"
)

// SectionFileOptions configures ProcessSectionFile, mirroring the CLI
// flags of spec §6.3.
type SectionFileOptions struct {
	// EITNormalize invokes the reorganizer (--eit-normalization).
	EITNormalize bool

	// BaseTime overrides last_midnight for reorganization
	// (--eit-base-date). Ignored unless HasBaseTime is set; otherwise
	// Reorganize derives it from the oldest surviving event.
	BaseTime    time.Time
	HasBaseTime bool

	// Options holds the CLI's EIT category bits; GenAll if the CLI
	// passed none of --eit-{actual,other}-{pf,schedule}. It is passed to
	// Reorganize, which does not consult it: every category is rebuilt
	// whatever bits are set.
	Options Options

	// PackAndFlush renumbers orphan sections after loading
	// (--pack-and-flush).
	PackAndFlush bool
}

// ProcessSectionFile is the small facade C8 wraps around an already-
// loaded bag of sections: normalize through the reorganizer, then pack
// and flush, per spec §4.8. Either step may be skipped by its option.
// Non-fatal conditions (pack-and-flush's renumbering) are returned as
// warning strings rather than failing the call.
func ProcessSectionFile(sections [][]byte, opts SectionFileOptions) ([][]byte, []string, error) {
	out := sections
	var warnings []string

	if opts.EITNormalize {
		normalized, err := Reorganize(out, opts.BaseTime, opts.HasBaseTime, opts.Options)
		if err != nil {
			return nil, nil, fmt.Errorf("eit: normalizing section file: %w", err)
		}
		out = normalized
	}

	if opts.PackAndFlush {
		packed, w := PackAndFlush(out)
		out = packed
		warnings = append(warnings, w...)
	}

	return out, warnings, nil
}

// ParseEITNormalizationFlag parses the boolean value of --eit-normalization.
// Command-line flag registration itself is out of scope (spec §1); this is
// the plain function a flag.Var front-end calls.
func ParseEITNormalizationFlag(s string) (bool, error) {
	return strconv.ParseBool(s)
}

// baseDateLayouts are the two forms --eit-base-date accepts (spec §6.3).
var baseDateLayouts = []string{"2006/01/02 15:04:05", "2006/01/02"}

// ParseBaseDate parses --eit-base-date's "YYYY/MM/DD" or
// "YYYY/MM/DD hh:mm:ss" forms as UTC.
func ParseBaseDate(s string) (time.Time, error) {
	var lastErr error
	for _, layout := range baseDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		} else {
			lastErr = err
		}
	}
	return time.Time{}, fmt.Errorf("eit: parsing --eit-base-date %q: %w", s, lastErr)
}

// EITOptionsFlags mirrors the eight boolean CLI flags of spec §6.3 that
// together select EITOptions' GEN_* bits.
type EITOptionsFlags struct {
	Actual, Other     bool
	PF, Schedule      bool
	ActualPF, OtherPF bool
	ActualSched       bool
	OtherSched        bool
}

// ParseEITOptionsFlags combines the CLI's GEN_* flags into an Options mask,
// defaulting to GenAll when none are set (spec §6.3).
func ParseEITOptionsFlags(f EITOptionsFlags) Options {
	var opts Options
	if f.Actual {
		opts |= GenActual
	}
	if f.Other {
		opts |= GenOther
	}
	if f.PF {
		opts |= GenPF
	}
	if f.Schedule {
		opts |= GenSched
	}
	if f.ActualPF {
		opts |= GenActualPF
	}
	if f.OtherPF {
		opts |= GenOtherPF
	}
	if f.ActualSched {
		opts |= GenActualSched
	}
	if f.OtherSched {
		opts |= GenOtherSched
	}
	if opts == 0 {
		return GenAll
	}
	return opts
}

// packKey groups sections the way pack-and-flush renumbers them: by
// table id, and additionally by table_id_extension (service_id) for
// long sections, since short sections carry no section_number field.
type packKey struct {
	tableID uint8
	ext     uint16
}

// PackAndFlush renumbers each table's sections to dense 0..N-1
// section_number/last_section_number, in their original relative order,
// per spec §4.8. This does not reconstruct segment/subtable boundaries
// the way the reorganizer does — it is a cheap post-load repair for an
// orphaned table, and the caller is warned that the result may not be a
// semantically valid EIT subtable.
func PackAndFlush(sections [][]byte) ([][]byte, []string) {
	groups := make(map[packKey][]int)
	var order []packKey

	for i, sec := range sections {
		if len(sec) < sectionPreludeSize+sectionCRCSize || sec[1]&0x80 == 0 {
			continue // not a long section: no section_number to renumber
		}
		key := packKey{tableID: rawTableID(sec), ext: rawServiceID(sec)}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}

	out := make([][]byte, len(sections))
	copy(out, sections)

	var warnings []string
	for _, key := range order {
		idxs := groups[key]
		last := uint8(len(idxs) - 1)
		for n, idx := range idxs {
			sec := make([]byte, len(out[idx]))
			copy(sec, out[idx])
			rawSetSectionNumber(sec, uint8(n))
			rawSetLastSectionNumber(sec, last)
			recomputeCRC(sec)
			out[idx] = sec
		}
		warnings = append(warnings, fmt.Sprintf(
			"pack-and-flush: renumbered %d section(s) of table 0x%02x/0x%04x; result may not be a valid subtable",
			len(idxs), key.tableID, key.ext))
	}

	return out, warnings
}
