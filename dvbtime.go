package eit

import (
	"strconv"
	"time"

	"github.com/icza/bitio"
)

// SegmentDuration is the fixed 3-hour EIT segment size (spec §3.3).
const SegmentDuration = 3 * time.Hour

// SegmentsPerSubtable is the number of 3-hour segments in one 4-day
// EIT-schedule subtable (32 segments * 3h = 4 days).
const SegmentsPerSubtable = 32

// SegmentsPerDay is the number of 3-hour segments in a day.
const SegmentsPerDay = 8

// SubtablesPerHalf is the number of schedule subtables per actual/other
// half of the table id space (0x50-0x5F or 0x60-0x6F).
const SubtablesPerHalf = 16

// TotalSegments is the number of 3-hour segments covered by the full
// 64-day EIT-schedule horizon.
const TotalSegments = SegmentsPerSubtable * SubtablesPerHalf // 512

// HorizonDays is the number of days covered by the schedule horizon.
const HorizonDays = 64

// thisMidnight returns the most recent UTC midnight at or before t.
func thisMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// SegmentStartTime returns the start of the 3-hour segment containing t,
// relative to lastMidnight (spec §4.4 step 3): lastMidnight plus the
// largest whole multiple of 3h not exceeding t-lastMidnight.
func SegmentStartTime(lastMidnight, t time.Time) time.Time {
	d := t.Sub(lastMidnight)
	n := d / SegmentDuration
	return lastMidnight.Add(n * SegmentDuration)
}

// SegmentIndex returns the 0-based segment index of t relative to
// lastMidnight (0 at lastMidnight, incrementing every 3 hours).
func SegmentIndex(lastMidnight, t time.Time) int {
	return int(t.Sub(lastMidnight) / SegmentDuration)
}

// parseMJD decodes the 16-bit Modified Julian Date field into a calendar
// date. Grounded on the teacher's parseDVBTime (dvb.go); the MJD<->Gregorian
// conversion formula is ETSI EN 300 468 Annex C.
func parseMJD(mjd uint16) (year int, month time.Month, day int) {
	yt := int((float32(mjd) - 15078.2) / 365.25)
	mt := int((float64(mjd) - 14956.1 - float64(uint16(float64(yt)*365.25))) / 30.6001)
	d := int(mjd - 14956 - uint16(float64(yt)*365.25) - uint16(float64(mt)*30.6001))
	k := 0
	if mt == 14 || mt == 15 {
		k = 1
	}
	y := yt + k
	m := mt - 1 - k*12
	return y + 1900, time.Month(m), d
}

// encodeMJD is the inverse of parseMJD.
func encodeMJD(t time.Time) int {
	year := t.Year() - 1900
	month := t.Month()
	day := t.Day()

	l := 0
	if month <= time.February {
		l = 1
	}

	return 14956 + day + int(float64(year-l)*365.25) + int(float64(int(month)+1+l*12)*30.6001)
}

// dvbDurationByte decodes one 4-bit-BCD-pair byte into its decimal value.
func dvbDurationByte(b byte) int {
	return int(b>>4)*10 + int(b&0xf)
}

// encodeDVBDurationByte is the inverse of dvbDurationByte.
func encodeDVBDurationByte(n int) byte {
	return byte((n/10)<<4 | n%10)
}

// parseDVBTime decodes a 40-bit start_time field: 16-bit MJD date plus
// 24-bit BCD HH:MM:SS UTC (spec §6.1).
func parseDVBTime(r *bitio.CountReader) (time.Time, error) {
	mjd := uint16(r.TryReadBits(16))
	year, month, day := parseMJD(mjd)

	dateStr := strconv.Itoa(year) + "-" + strconv.Itoa(int(month)) + "-" + strconv.Itoa(day)
	t, err := time.Parse("2006-1-2", dateStr)
	if err != nil {
		return time.Time{}, err
	}

	hh := dvbDurationByte(r.TryReadByte())
	mm := dvbDurationByte(r.TryReadByte())
	ss := dvbDurationByte(r.TryReadByte())
	t = t.Add(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second)
	return t.UTC(), r.TryError
}

// parseDVBDuration decodes a 24-bit BCD HH:MM:SS duration field.
func parseDVBDuration(r *bitio.CountReader) (time.Duration, error) {
	hh := dvbDurationByte(r.TryReadByte())
	mm := dvbDurationByte(r.TryReadByte())
	ss := dvbDurationByte(r.TryReadByte())
	return time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute + time.Duration(ss)*time.Second, r.TryError
}

// writeDVBTime encodes t as a 40-bit start_time field.
func writeDVBTime(w *bitio.Writer, t time.Time) error {
	t = t.UTC()
	mjd := encodeMJD(t)
	w.TryWriteBits(uint64(mjd), 16)

	dayStart := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	d := t.Sub(dayStart)
	return writeDVBDuration(w, d)
}

// writeDVBDuration encodes d as a 24-bit BCD HH:MM:SS duration field.
func writeDVBDuration(w *bitio.Writer, d time.Duration) error {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	w.TryWriteByte(encodeDVBDurationByte(hours))
	w.TryWriteByte(encodeDVBDurationByte(minutes))
	w.TryWriteByte(encodeDVBDurationByte(seconds))
	return w.TryError
}
