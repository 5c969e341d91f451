// Package value decodes and encodes the eBUS scalar datatypes carried in
// telegram payloads: plain integers, packed BCD, and the fixed-point
// DATAxx/FLOAT forms used by heating appliance registers.
package value

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrShort is returned when fewer bytes are given than the datatype needs.
var ErrShort = errors.New("value: payload too short")

// ErrBCD is returned by DecodeBCD for a byte whose nibbles are not both
// valid decimal digits.
var ErrBCD = errors.New("value: invalid BCD digit")

func need(b []byte, n int) error {
	if len(b) < n {
		return ErrShort
	}
	return nil
}

// DecodeBCD decodes one packed-BCD byte (two decimal digits, one per
// nibble). An out-of-range nibble is reported as ErrBCD rather than the
// 0xFF sentinel value some eBUS documentation describes for this case;
// callers that want the sentinel can map ErrBCD to 0xFF themselves.
func DecodeBCD(b []byte) (uint8, error) {
	if err := need(b, 1); err != nil {
		return 0, err
	}
	hi, lo := b[0]>>4, b[0]&0x0F
	if hi > 9 || lo > 9 {
		return 0, ErrBCD
	}
	return hi*10 + lo, nil
}

// EncodeBCD packs v (0..99) into one BCD byte.
func EncodeBCD(v uint8) []byte {
	if v > 99 {
		return []byte{0xFF}
	}
	return []byte{(v / 10 << 4) | v % 10}
}

// DecodeUint8 decodes an unsigned 8-bit integer.
func DecodeUint8(b []byte) (uint8, error) {
	if err := need(b, 1); err != nil {
		return 0, err
	}
	return b[0], nil
}

// EncodeUint8 encodes an unsigned 8-bit integer.
func EncodeUint8(v uint8) []byte { return []byte{v} }

// DecodeInt8 decodes a signed 8-bit integer.
func DecodeInt8(b []byte) (int8, error) {
	if err := need(b, 1); err != nil {
		return 0, err
	}
	return int8(b[0]), nil
}

// EncodeInt8 encodes a signed 8-bit integer.
func EncodeInt8(v int8) []byte { return []byte{byte(v)} }

// DecodeUint16 decodes an unsigned 16-bit integer, little-endian.
func DecodeUint16(b []byte) (uint16, error) {
	if err := need(b, 2); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// EncodeUint16 encodes an unsigned 16-bit integer, little-endian.
func EncodeUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

// DecodeInt16 decodes a signed 16-bit integer, little-endian.
func DecodeInt16(b []byte) (int16, error) {
	u, err := DecodeUint16(b)
	return int16(u), err
}

// EncodeInt16 encodes a signed 16-bit integer, little-endian.
func EncodeInt16(v int16) []byte { return EncodeUint16(uint16(v)) }

// DecodeUint32 decodes an unsigned 32-bit integer, little-endian.
func DecodeUint32(b []byte) (uint32, error) {
	if err := need(b, 4); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// EncodeUint32 encodes an unsigned 32-bit integer, little-endian.
func EncodeUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// DecodeInt32 decodes a signed 32-bit integer, little-endian.
func DecodeInt32(b []byte) (int32, error) {
	u, err := DecodeUint32(b)
	return int32(u), err
}

// EncodeInt32 encodes a signed 32-bit integer, little-endian.
func EncodeInt32(v int32) []byte { return EncodeUint32(uint32(v)) }

// roundDigits rounds value to the given number of decimal digits, away
// from zero on a tie, matching the firmware's round-half-up convention.
func roundDigits(value float64, digits int) float64 {
	scale := math.Pow(10, float64(digits))
	return math.Round(value*scale) / scale
}

// DecodeData1b decodes DATA1b: a signed 8-bit integer, scale 1.
func DecodeData1b(b []byte) (float64, error) {
	v, err := DecodeInt8(b)
	return float64(v), err
}

// EncodeData1b encodes DATA1b.
func EncodeData1b(v float64) []byte { return EncodeInt8(int8(v)) }

// DecodeData1c decodes DATA1c: an unsigned 8-bit integer, scale 1/2.
func DecodeData1c(b []byte) (float64, error) {
	v, err := DecodeUint8(b)
	return float64(v) / 2, err
}

// EncodeData1c encodes DATA1c.
func EncodeData1c(v float64) []byte { return EncodeUint8(uint8(v * 2)) }

// DecodeData2b decodes DATA2b: a signed 16-bit integer, scale 1/256.
func DecodeData2b(b []byte) (float64, error) {
	v, err := DecodeInt16(b)
	return float64(v) / 256, err
}

// EncodeData2b encodes DATA2b.
func EncodeData2b(v float64) []byte { return EncodeInt16(int16(v * 256)) }

// DecodeData2c decodes DATA2c: a signed 16-bit integer, scale 1/16.
func DecodeData2c(b []byte) (float64, error) {
	v, err := DecodeInt16(b)
	return float64(v) / 16, err
}

// EncodeData2c encodes DATA2c.
func EncodeData2c(v float64) []byte { return EncodeInt16(int16(v * 16)) }

// DecodeFloat decodes FLOAT: a signed 16-bit integer, scale 1/1000,
// rounded to 3 decimal digits.
func DecodeFloat(b []byte) (float64, error) {
	v, err := DecodeInt16(b)
	return roundDigits(float64(v)/1000, 3), err
}

// EncodeFloat encodes FLOAT.
func EncodeFloat(v float64) []byte {
	return EncodeInt16(int16(roundDigits(v*1000, 3)))
}
