package elf32

import "github.com/pkg/errors"

var (
	// ErrFormat is returned when the file is shorter than its own tables
	// claim, or a table is not a whole number of entries.
	ErrFormat = errors.New("elf32: malformed file")
	// ErrValidation is returned when the identity or typed header fields
	// describe a file this loader cannot handle.
	ErrValidation = errors.New("elf32: invalid file")
	// ErrLookup is returned when a table referenced by index or address is
	// missing or of the wrong kind.
	ErrLookup = errors.New("elf32: lookup failed")
)
