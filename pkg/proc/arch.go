package proc

import "fmt"

// Architecture identifies the CPU architecture of the target process. It is
// derived once from the agent's self-reported architecture string when a
// session starts and never changes afterwards.
type Architecture int

const (
	// X86 is 32-bit x86.
	X86 Architecture = iota
	// AMD64 is 64-bit x86.
	AMD64
)

// ErrUnknownArchitecture is returned when the agent reports an architecture
// string this package does not recognize. It indicates an incompatible
// agent/target pairing and is always fatal for the session.
type ErrUnknownArchitecture struct {
	Reported string
}

func (err *ErrUnknownArchitecture) Error() string {
	return fmt.Sprintf("unknown architecture %q reported by agent", err.Reported)
}

// ParseArchitecture translates the agent's wire string into an Architecture.
func ParseArchitecture(s string) (Architecture, error) {
	switch s {
	case "ia32":
		return X86, nil
	case "x64":
		return AMD64, nil
	}
	return 0, &ErrUnknownArchitecture{Reported: s}
}

func (a Architecture) String() string {
	switch a {
	case X86:
		return "ia32"
	case AMD64:
		return "x64"
	}
	return fmt.Sprintf("Architecture(%d)", int(a))
}
