package elf32

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringTable(t *testing.T) {
	tab := NewStringTable([]byte("\x00main\x00printf\x00tail"))

	tests := []struct {
		offset    uint32
		candidate string
		get       string
		match     bool
	}{
		{offset: 1, candidate: "main", get: "main", match: true},
		{offset: 1, candidate: "mai", get: "main", match: false},
		{offset: 2, candidate: "ain", get: "ain", match: true},
		{offset: 6, candidate: "printf", get: "printf", match: true},
		{offset: 6, candidate: "printf_chk", get: "printf", match: false},
		{offset: 13, candidate: "tail", get: "tail", match: true},
		{offset: 13, candidate: "tails", get: "tail", match: false},
		{offset: 0, candidate: "", get: "", match: false},
		{offset: 17, candidate: "", get: "", match: true},
		{offset: 100, candidate: "", get: "", match: true},
		{offset: 100, candidate: "x", get: "", match: false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.get, tab.Get(tt.offset), "Get(%d)", tt.offset)
		assert.Equal(t, tt.match, tab.IsMatch(tt.offset, tt.candidate), "IsMatch(%d, %q)", tt.offset, tt.candidate)
	}
}
