package value

import "testing"

func TestDecodeBCD(t *testing.T) {
	got, err := DecodeBCD([]byte{0x42})
	if err != nil || got != 42 {
		t.Fatalf("DecodeBCD(0x42) = %d, %v, want 42, nil", got, err)
	}
	if _, err := DecodeBCD([]byte{0xAF}); err != ErrBCD {
		t.Fatalf("DecodeBCD(0xAF) err = %v, want ErrBCD", err)
	}
}

func TestEncodeBCD(t *testing.T) {
	if got := EncodeBCD(42); got[0] != 0x42 {
		t.Fatalf("EncodeBCD(42) = %#x, want 0x42", got[0])
	}
	if got := EncodeBCD(100); got[0] != 0xFF {
		t.Fatalf("EncodeBCD(100) = %#x, want 0xFF", got[0])
	}
}

func TestDecodeData1b(t *testing.T) {
	got, err := DecodeData1b([]byte{0xFF}) // -1
	if err != nil || got != -1 {
		t.Fatalf("DecodeData1b(0xFF) = %v, %v, want -1, nil", got, err)
	}
}

func TestDecodeData1c(t *testing.T) {
	got, err := DecodeData1c([]byte{0x29}) // 41 / 2 = 20.5
	if err != nil || got != 20.5 {
		t.Fatalf("DecodeData1c(0x29) = %v, %v, want 20.5, nil", got, err)
	}
}

func TestDecodeData2b(t *testing.T) {
	got, err := DecodeData2b([]byte{0x00, 0x14}) // 0x1400 = 5120 / 256 = 20
	if err != nil || got != 20 {
		t.Fatalf("DecodeData2b = %v, %v, want 20, nil", got, err)
	}
}

func TestDecodeData2c(t *testing.T) {
	got, err := DecodeData2c([]byte{0x40, 0x01}) // 0x0140 = 320 / 16 = 20
	if err != nil || got != 20 {
		t.Fatalf("DecodeData2c = %v, %v, want 20, nil", got, err)
	}
}

func TestDecodeFloatRoundTrip(t *testing.T) {
	wire := EncodeFloat(21.5)
	got, err := DecodeFloat(wire)
	if err != nil || got != 21.5 {
		t.Fatalf("round trip 21.5 -> %v, %v", got, err)
	}
}

func TestDecodeUint16LittleEndian(t *testing.T) {
	got, err := DecodeUint16([]byte{0x34, 0x12})
	if err != nil || got != 0x1234 {
		t.Fatalf("DecodeUint16 = %#x, %v, want 0x1234, nil", got, err)
	}
}

func TestShortPayload(t *testing.T) {
	if _, err := DecodeUint16([]byte{0x01}); err != ErrShort {
		t.Fatalf("err = %v, want ErrShort", err)
	}
}
