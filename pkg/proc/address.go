package proc

import (
	"fmt"
	"strconv"
	"strings"
)

// An Address is a location in the target's address space.
type Address uint64

// ParseAddress converts a hexadecimal wire value (with or without a "0x"
// prefix) into an Address. The agent reports every address this way.
func ParseAddress(s string) (Address, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed address %q: %v", s, err)
	}
	return Address(v), nil
}

// Add adds x to address a.
func (a Address) Add(x uint64) Address {
	return a + Address(x)
}

// Sub subtracts b from a. Requires a >= b.
func (a Address) Sub(b Address) uint64 {
	return uint64(a - b)
}

// Align rounds a down to a multiple of x.
// x must be a power of 2.
func (a Address) Align(x uint64) Address {
	return a & ^(Address(x) - 1)
}

func (a Address) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}
