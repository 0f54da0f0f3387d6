package eit

// Options is the bit mask controlling which EIT tables an Injector
// generates and how it behaves, per spec §4.6/§6.4.
type Options uint32

const (
	GenActualPF   Options = 0x01
	GenOtherPF    Options = 0x02
	GenActualSched Options = 0x04
	GenOtherSched Options = 0x08

	GenPF    = GenActualPF | GenOtherPF
	GenSched = GenActualSched | GenOtherSched
	GenActual = GenActualPF | GenActualSched
	GenOther  = GenOtherPF | GenOtherSched
	GenAll    = GenPF | GenSched

	LoadInput        Options = 0x10
	PacketStuffing   Options = 0x20
	LazySchedUpdate  Options = 0x40
	SyncVersions     Options = 0x80
)

// Has reports whether all bits of mask are set in o.
func (o Options) Has(mask Options) bool { return o&mask == mask }
