package domain

import (
	"testing"
)

// FuzzParseAddress checks that parsing never panics and accepted addresses
// round-trip through their hex form.
func FuzzParseAddress(f *testing.F) {
	f.Add("")
	f.Add("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed")
	f.Add("0x0000000000000000000000000000000000000000")
	f.Add("'; DROP TABLE identities;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		addr, err := ParseAddress(input)
		if err != nil {
			return
		}
		again, err := ParseAddress(addr.Hex())
		if err != nil {
			t.Fatalf("accepted address failed round trip: %v", err)
		}
		if again != addr {
			t.Fatal("round trip changed address")
		}
	})
}

// FuzzParseAmount checks that every accepted amount is within uint256.
func FuzzParseAmount(f *testing.F) {
	f.Add("0")
	f.Add("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	f.Add("-1")
	f.Add("1e18")

	f.Fuzz(func(t *testing.T, input string) {
		v, err := ParseAmount(input)
		if err == nil && !IsUint256(v) {
			t.Fatalf("accepted out of range amount %s", v)
		}
	})
}
