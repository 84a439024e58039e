package protocol

// crcPoly is the reflected CCITT polynomial. With an initial value of 0xFFFF
// and no final XOR this is CRC-16/MCRF4XX, the frame check Klipper uses.
const crcPoly = 0x8408

var crcTable = makeCRCTable()

func makeCRCTable() (table [256]uint16) {
	for i := range table {
		crc := uint16(i)
		for bit := 0; bit < 8; bit++ {
			if crc&1 != 0 {
				crc = crc>>1 ^ crcPoly
			} else {
				crc >>= 1
			}
		}
		table[i] = crc
	}
	return table
}

// CRC16 returns the frame check of data
func CRC16(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc = crc>>8 ^ crcTable[byte(crc)^b]
	}
	return crc
}
