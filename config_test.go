package ebusgw

import "testing"

func TestMustOwnAddressesAcceptsHexAndDecimal(t *testing.T) {
	got := mustOwnAddresses("0x03, 7, 0xF1")
	want := []byte{0x03, 0x07, 0xF1}
	if len(got) != len(want) {
		t.Fatalf("mustOwnAddresses = %#v, want %#v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("mustOwnAddresses = %#v, want %#v", got, want)
		}
	}
}
