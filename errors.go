package eit

import "errors"

// Sentinel errors surfaced by the core, per spec §7. All are recoverable:
// the caller decides whether and how to retry, the core itself never
// aborts the process over them.
var (
	// ErrTruncatedEventData is returned by LoadEvents when the raw event
	// buffer ends mid-record. Events parsed before the truncation point
	// are retained.
	ErrTruncatedEventData = errors.New("eit: truncated event data")

	// ErrSectionOversized is returned by BuildSection when the event loop
	// it is given is longer than MaxSectionPayloadSize minus
	// EITPayloadFixedSize. The schedule packers drop a single event that
	// fits no section instead of returning this error.
	ErrSectionOversized = errors.New("eit: section would exceed maximum payload size")

	// ErrTooManySections names a subtable that would need more than 256
	// sections. No function of this package returns or logs it.
	ErrTooManySections = errors.New("eit: more than 256 sections in one subtable")

	// ErrUnknownClock names the state where no reference time has been
	// established yet. No function of this package returns it.
	ErrUnknownClock = errors.New("eit: reference clock is not known yet")

	// ErrUnknownTransportStreamID names the state where the transport
	// stream id has not been discovered yet. No function of this package
	// returns it.
	ErrUnknownTransportStreamID = errors.New("eit: transport stream id is not known yet")

	// ErrInvalidSectionCRC names a section whose trailing CRC32 does not
	// validate. No function of this package returns it; validateCRC
	// reports the check as a bool.
	ErrInvalidSectionCRC = errors.New("eit: computed CRC32 doesn't match section CRC32")

	// ErrInvalidTableID is returned when a section's table_id is outside
	// the EIT range 0x4E-0x6F.
	ErrInvalidTableID = errors.New("eit: table id is not a valid EIT table id")

	// ErrSectionTooShort is returned when a buffer is too small to hold
	// even the fixed section prelude.
	ErrSectionTooShort = errors.New("eit: buffer too short to hold a section header")
)
