// Package addr classifies eBUS addresses into master, slave, and broadcast.
package addr

import "github.com/mlanger/ebusgw/symbol"

// masterNibbles holds the five nibble values a master address byte may use
// in either nibble position.
var masterNibbles = [16]bool{
	0x0: true, 0x1: true, 0x3: true, 0x7: true, 0xF: true,
}

// IsMaster reports whether b is one of the 25 valid master addresses: both
// nibbles drawn from {0,1,3,7,F}.
func IsMaster(b byte) bool {
	return masterNibbles[b>>4] && masterNibbles[b&0x0F]
}

// IsSlave reports whether b is a slave address: anything that is not SYN,
// ESC, ACK, NAK, or a master address. Note Broadcast (0xFE) is neither a
// master nor, by this definition, counted here — callers branch on
// IsMaster, b == symbol.Broadcast, then IsSlave in that order.
func IsSlave(b byte) bool {
	switch b {
	case symbol.SYN, symbol.ESC, symbol.ACK, symbol.NAK, symbol.Broadcast:
		return false
	}
	return !IsMaster(b)
}

// SlaveOf returns the paired slave address of master address m: m+5 mod 256.
func SlaveOf(m byte) byte {
	return m + 5
}

// Masters returns the 25 valid master addresses in ascending order.
func Masters() []byte {
	out := make([]byte, 0, 25)
	for hi := 0; hi < 16; hi++ {
		if !masterNibbles[hi] {
			continue
		}
		for lo := 0; lo < 16; lo++ {
			if !masterNibbles[lo] {
				continue
			}
			out = append(out, byte(hi<<4|lo))
		}
	}
	return out
}
