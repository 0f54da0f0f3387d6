package eit

// RepetitionClass is one of the six EIT priority classes of spec §4.3, in
// descending injection priority.
type RepetitionClass int

const (
	ClassPFActual RepetitionClass = iota
	ClassPFOther
	ClassSchedActualPrime
	ClassSchedOtherPrime
	ClassSchedActualLater
	ClassSchedOtherLater

	numRepetitionClasses = 6
)

// String names a class for logging.
func (c RepetitionClass) String() string {
	switch c {
	case ClassPFActual:
		return "PF_ACTUAL"
	case ClassPFOther:
		return "PF_OTHER"
	case ClassSchedActualPrime:
		return "SCHED_ACTUAL_PRIME"
	case ClassSchedOtherPrime:
		return "SCHED_OTHER_PRIME"
	case ClassSchedActualLater:
		return "SCHED_ACTUAL_LATER"
	case ClassSchedOtherLater:
		return "SCHED_OTHER_LATER"
	default:
		return "UNKNOWN"
	}
}

// RepetitionProfile is the (prime_days, cycle_seconds-per-class) pair that
// governs how often each class of section is re-injected (spec §4.3).
type RepetitionProfile struct {
	PrimeDays     uint8
	CycleSeconds  [numRepetitionClasses]uint32
}

// SatelliteProfile is ETSI TS 101 211's satellite/cable repetition profile.
func SatelliteProfile() RepetitionProfile {
	return RepetitionProfile{
		PrimeDays: 8,
		CycleSeconds: [numRepetitionClasses]uint32{
			ClassPFActual:          2,
			ClassPFOther:           10,
			ClassSchedActualPrime:  10,
			ClassSchedOtherPrime:   10,
			ClassSchedActualLater:  30,
			ClassSchedOtherLater:   30,
		},
	}
}

// TerrestrialProfile is ETSI TS 101 211's terrestrial repetition profile.
func TerrestrialProfile() RepetitionProfile {
	return RepetitionProfile{
		PrimeDays: 1,
		CycleSeconds: [numRepetitionClasses]uint32{
			ClassPFActual:          2,
			ClassPFOther:           20,
			ClassSchedActualPrime:  10,
			ClassSchedOtherPrime:   60,
			ClassSchedActualLater:  30,
			ClassSchedOtherLater:   300,
		},
	}
}

// CycleSecondsFor returns the repetition period, in seconds, for class c.
func (p RepetitionProfile) CycleSecondsFor(c RepetitionClass) uint32 {
	return p.CycleSeconds[c]
}

// ClassifySection returns the repetition class of a section given its
// table id and section number, per spec §4.3.
func (p RepetitionProfile) ClassifySection(tableID, sectionNumber uint8) RepetitionClass {
	if IsPresentFollowing(tableID) {
		if IsActualTableID(tableID) {
			return ClassPFActual
		}
		return ClassPFOther
	}

	actual := IsActualTableID(tableID)
	primeSegments := int(p.PrimeDays) * SegmentsPerDay
	laterTID := SegmentToTableID(actual, primeSegments)
	laterSection := SegmentToSection(primeSegments)

	prime := tableID < laterTID || (tableID == laterTID && sectionNumber < laterSection)

	switch {
	case actual && prime:
		return ClassSchedActualPrime
	case actual && !prime:
		return ClassSchedActualLater
	case !actual && prime:
		return ClassSchedOtherPrime
	default:
		return ClassSchedOtherLater
	}
}
