package eit

const crc32Init = uint32(0xffffffff)

// computeCRC32 computes the DVB/MPEG CRC32 of bs from the initial value,
// matching the checksum appended to every long PSI/SI section.
// Table-based, modeled on the teacher's VLC-derived updateCRC32.
// https://github.com/videolan/vlc/blob/master/modules/mux/mpeg/ps.c
func computeCRC32(bs []byte) uint32 {
	return updateCRC32(crc32Init, bs)
}

func updateCRC32(crc uint32, bs []byte) uint32 {
	for _, b := range bs {
		crc = (crc << 8) ^ crc32Table[((crc>>24)^uint32(b))&0xff]
	}
	return crc
}
