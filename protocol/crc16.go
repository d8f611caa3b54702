package protocol

// CRC16 is the CRC-16/CCITT variant Klipper uses on frames
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		b ^= uint8(crc)
		b ^= b << 4
		w := uint16(b)
		crc = (w<<8 | crc>>8) ^ (w >> 4) ^ (w << 3)
	}
	return crc
}

// appendTrailer appends the CRC of frame and the sync byte.
func appendTrailer(frame []byte) []byte {
	crc := CRC16(frame)
	return append(frame, byte(crc>>8), byte(crc), MessageValueSync)
}
