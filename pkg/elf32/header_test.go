package elf32_test

import (
	"debug/elf"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/elfld/pkg/elf32"
	"github.com/grafana/elfld/pkg/elf32/testhelper"
)

func TestHeaderRoundTrip(t *testing.T) {
	img := testhelper.New(elf.ET_EXEC).WithEntry(0x1234).Load(0x1000, elf.PF_R|elf.PF_X, []byte{1, 2, 3}).Bytes()

	h, err := elf32.ParseHeader(img)
	require.NoError(t, err)
	require.Equal(t, elf.ET_EXEC, h.Type)
	require.Equal(t, elf.EM_386, h.Machine)
	require.Equal(t, uint32(0x1234), h.Entry)
	require.Equal(t, uint16(1), h.ProgHeaderNumEntries)

	b, err := h.MarshalBinary()
	require.NoError(t, err)
	require.Equal(t, img[:elf32.HeaderSize], b)
}

func TestParseHeaderShort(t *testing.T) {
	_, err := elf32.ParseHeader(make([]byte, elf32.HeaderSize-1))
	require.ErrorIs(t, err, elf32.ErrFormat)
}

func TestHeaderValidate(t *testing.T) {
	valid := [elf.EI_NIDENT]byte{0x7f, 'E', 'L', 'F', byte(elf.ELFCLASS32), byte(elf.ELFDATA2LSB), byte(elf.EV_CURRENT)}
	withIdent := func(i int, v byte) [elf.EI_NIDENT]byte {
		id := valid
		id[i] = v
		return id
	}

	tests := []struct {
		name    string
		builder *testhelper.Builder
		want    string
		failed  func(*elf32.Header) bool
	}{
		{
			name:    "executable",
			builder: testhelper.New(elf.ET_EXEC),
		},
		{
			name:    "shared object",
			builder: testhelper.New(elf.ET_DYN),
		},
		{
			name:    "class none is accepted",
			builder: testhelper.New(elf.ET_EXEC).WithIdent(withIdent(elf.EI_CLASS, byte(elf.ELFCLASSNONE))),
		},
		{
			name:    "bad magic",
			builder: testhelper.New(elf.ET_EXEC).WithIdent(withIdent(1, 'X')),
			want:    "bad signature",
			failed:  (*elf32.Header).SignatureOK,
		},
		{
			name:    "64 bit class",
			builder: testhelper.New(elf.ET_EXEC).WithIdent(withIdent(elf.EI_CLASS, byte(elf.ELFCLASS64))),
			want:    "unsupported class",
			failed:  (*elf32.Header).ClassOK,
		},
		{
			name:    "big endian",
			builder: testhelper.New(elf.ET_EXEC).WithIdent(withIdent(elf.EI_DATA, byte(elf.ELFDATA2MSB))),
			want:    "unsupported data encoding",
			failed:  (*elf32.Header).EncodingOK,
		},
		{
			name:    "core file",
			builder: testhelper.New(elf.ET_CORE),
			want:    "unsupported file type",
			failed:  (*elf32.Header).TypeOK,
		},
		{
			name:    "wrong machine",
			builder: testhelper.New(elf.ET_EXEC).WithMachine(elf.EM_X86_64),
			want:    "unsupported machine",
			failed:  (*elf32.Header).MachineOK,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := elf32.ParseHeader(tt.builder.Bytes())
			require.NoError(t, err)
			err = h.Validate()
			if tt.want == "" {
				require.NoError(t, err)
				require.True(t, h.IsValidFile())
				require.True(t, h.SignatureOK() && h.ClassOK() && h.EncodingOK() && h.TypeOK() && h.MachineOK())
				return
			}
			require.False(t, tt.failed(h))
			require.ErrorIs(t, err, elf32.ErrValidation)
			require.ErrorContains(t, err, tt.want)
			require.False(t, h.IsValidFile())
		})
	}
}

func TestIdentityChecks(t *testing.T) {
	h, err := elf32.ParseHeader(testhelper.New(elf.ET_DYN).Bytes())
	require.NoError(t, err)
	require.True(t, h.SignatureOK())
	require.Equal(t, elf.ELFCLASS32, h.Class())
	require.Equal(t, elf.ELFDATA2LSB, h.Encoding())
	require.Equal(t, elf.EV_CURRENT, h.HeaderVersion())
}
