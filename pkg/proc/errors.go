package proc

import "fmt"

// QueryProcessMemoryError means a memory protection query faulted in the
// target, usually because the queried address is not mapped.
type QueryProcessMemoryError struct {
	Addr Address
	Err  error
}

func (err *QueryProcessMemoryError) Error() string {
	return fmt.Sprintf("could not query memory protection at %s: %v", err.Addr, err.Err)
}

func (err *QueryProcessMemoryError) Unwrap() error { return err.Err }

// ReadProcessMemoryError means some chunk of a bulk memory read faulted.
// No partial data is ever returned alongside it.
type ReadProcessMemoryError struct {
	Addr Address
	Size uint64
	Err  error
}

func (err *ReadProcessMemoryError) Error() string {
	return fmt.Sprintf("could not read %d bytes at %s: %v", err.Size, err.Addr, err.Err)
}

func (err *ReadProcessMemoryError) Unwrap() error { return err.Err }

// WriteProcessMemoryError means a memory write faulted. Chunks written
// before the fault stay written; remote memory cannot be rolled back.
type WriteProcessMemoryError struct {
	Addr Address
	Size uint64
	Err  error
}

func (err *WriteProcessMemoryError) Error() string {
	return fmt.Sprintf("could not write %d bytes at %s: %v", err.Size, err.Addr, err.Err)
}

func (err *WriteProcessMemoryError) Unwrap() error { return err.Err }
