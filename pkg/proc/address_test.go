package proc

import "testing"

func TestParseAddress(t *testing.T) {
	for _, tc := range []struct {
		in   string
		addr Address
	}{
		{"0x1000", 0x1000},
		{"1000", 0x1000},
		{"0xdeadbeef", 0xdeadbeef},
		{"0x7fff00000000", 0x7fff00000000},
	} {
		addr, err := ParseAddress(tc.in)
		if err != nil {
			t.Fatalf("ParseAddress(%q): %v", tc.in, err)
		}
		if addr != tc.addr {
			t.Errorf("ParseAddress(%q) = %s, expected %s", tc.in, addr, tc.addr)
		}
	}
}

func TestParseAddressMalformed(t *testing.T) {
	for _, in := range []string{"", "0x", "xyz", "0x12g4"} {
		if _, err := ParseAddress(in); err == nil {
			t.Errorf("ParseAddress(%q) unexpectedly succeeded", in)
		}
	}
}

func TestAddressAlign(t *testing.T) {
	for _, tc := range []struct {
		addr Address
		x    uint64
		out  Address
	}{
		{0x1000, 0x1000, 0x1000},
		{0x1001, 0x1000, 0x1000},
		{0x1fff, 0x1000, 0x1000},
		{0x2000, 0x1000, 0x2000},
	} {
		if out := tc.addr.Align(tc.x); out != tc.out {
			t.Errorf("%s.Align(%#x) = %s, expected %s", tc.addr, tc.x, out, tc.out)
		}
	}
}

func TestRangeContains(t *testing.T) {
	r := &MemoryRange{Base: 0x1000, Size: 0x1000, Protection: "r-x"}
	for _, tc := range []struct {
		addr Address
		in   bool
	}{
		{0xfff, false},
		{0x1000, true},
		{0x1fff, true},
		{0x2000, false},
	} {
		if got := r.Contains(tc.addr); got != tc.in {
			t.Errorf("Contains(%s) = %v, expected %v", tc.addr, got, tc.in)
		}
	}
	if r.End() != 0x2000 {
		t.Errorf("End() = %s, expected 0x2000", r.End())
	}
}
