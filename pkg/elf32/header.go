package elf32

import (
	"bytes"
	"debug/elf"
	"encoding/binary"

	"github.com/pkg/errors"
)

// HeaderSize is the size of the ELF32 file header.
const HeaderSize = 52

// TargetMachine is the only instruction set the loader links for.
const TargetMachine = elf.EM_386

var byteOrder = binary.LittleEndian

// Header is the decoded ELF32 file header.
type Header struct {
	Ident                 [elf.EI_NIDENT]byte
	Type                  elf.Type
	Machine               elf.Machine
	Version               uint32
	Entry                 uint32
	ProgHeaderTableOffset uint32
	SecHeaderTableOffset  uint32
	Flags                 uint32
	HeaderSize            uint16
	ProgHeaderEntrySize   uint16
	ProgHeaderNumEntries  uint16
	SecHeaderEntrySize    uint16
	SecHeaderNumEntries   uint16
	SecHeaderStringIndex  uint16
}

// ParseHeader decodes the first HeaderSize bytes of b.
func ParseHeader(b []byte) (*Header, error) {
	if len(b) < HeaderSize {
		return nil, errors.Wrapf(ErrFormat, "header: have %d bytes, need %d", len(b), HeaderSize)
	}
	var raw elf.Header32
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), byteOrder, &raw); err != nil {
		return nil, errors.Wrapf(ErrFormat, "header: %v", err)
	}
	return &Header{
		Ident:                 raw.Ident,
		Type:                  elf.Type(raw.Type),
		Machine:               elf.Machine(raw.Machine),
		Version:               raw.Version,
		Entry:                 raw.Entry,
		ProgHeaderTableOffset: raw.Phoff,
		SecHeaderTableOffset:  raw.Shoff,
		Flags:                 raw.Flags,
		HeaderSize:            raw.Ehsize,
		ProgHeaderEntrySize:   raw.Phentsize,
		ProgHeaderNumEntries:  raw.Phnum,
		SecHeaderEntrySize:    raw.Shentsize,
		SecHeaderNumEntries:   raw.Shnum,
		SecHeaderStringIndex:  raw.Shstrndx,
	}, nil
}

// MarshalBinary encodes the header back into its 52 byte on-disk form.
func (h *Header) MarshalBinary() ([]byte, error) {
	raw := elf.Header32{
		Ident:     h.Ident,
		Type:      uint16(h.Type),
		Machine:   uint16(h.Machine),
		Version:   h.Version,
		Entry:     h.Entry,
		Phoff:     h.ProgHeaderTableOffset,
		Shoff:     h.SecHeaderTableOffset,
		Flags:     h.Flags,
		Ehsize:    h.HeaderSize,
		Phentsize: h.ProgHeaderEntrySize,
		Phnum:     h.ProgHeaderNumEntries,
		Shentsize: h.SecHeaderEntrySize,
		Shnum:     h.SecHeaderNumEntries,
		Shstrndx:  h.SecHeaderStringIndex,
	}
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := binary.Write(&buf, byteOrder, &raw); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (h *Header) SignatureOK() bool {
	return string(h.Ident[:len(elf.ELFMAG)]) == elf.ELFMAG
}

func (h *Header) Class() elf.Class {
	return elf.Class(h.Ident[elf.EI_CLASS])
}

func (h *Header) Encoding() elf.Data {
	return elf.Data(h.Ident[elf.EI_DATA])
}

func (h *Header) HeaderVersion() elf.Version {
	return elf.Version(h.Ident[elf.EI_VERSION])
}

// ClassOK accepts ELFCLASS32 and an unset class.
func (h *Header) ClassOK() bool {
	return h.Class() == elf.ELFCLASS32 || h.Class() == elf.ELFCLASSNONE
}

func (h *Header) EncodingOK() bool {
	return h.Encoding() == elf.ELFDATA2LSB
}

func (h *Header) TypeOK() bool {
	switch h.Type {
	case elf.ET_NONE, elf.ET_EXEC, elf.ET_REL, elf.ET_DYN:
		return true
	}
	return false
}

func (h *Header) MachineOK() bool {
	return h.Machine == TargetMachine
}

// Validate reports the first identity or header check that fails. The error
// wraps ErrValidation and names the check.
func (h *Header) Validate() error {
	switch {
	case !h.SignatureOK():
		return errors.Wrapf(ErrValidation, "bad signature % x", h.Ident[:len(elf.ELFMAG)])
	case !h.ClassOK():
		return errors.Wrapf(ErrValidation, "unsupported class %s", h.Class())
	case !h.EncodingOK():
		return errors.Wrapf(ErrValidation, "unsupported data encoding %s", h.Encoding())
	case !h.TypeOK():
		return errors.Wrapf(ErrValidation, "unsupported file type %s", h.Type)
	case !h.MachineOK():
		return errors.Wrapf(ErrValidation, "unsupported machine %s, want %s", h.Machine, TargetMachine)
	}
	return nil
}

func (h *Header) IsValidFile() bool {
	return h.Validate() == nil
}
