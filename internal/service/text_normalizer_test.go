package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapse and drop blank", "a   b\n\nc", "a b\nc"},
		{"trim edges", "  \n  hello \t world  \n\n", "hello world"},
		{"crlf", "one\r\ntwo\rthree", "one\ntwo\nthree"},
		{"devanagari untouched", "नमस्ते   दुनिया\n\n\nयह  पृष्ठ है", "नमस्ते दुनिया\nयह पृष्ठ है"},
		{"nbsp", "a\u00a0\u00a0b", "a b"},
		{"nul removed", "ab\x00c", "abc"},
		{"whitespace only", " \n\t \n", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeText(tt.in))
		})
	}
}

func TestNormalizeText_Idempotent(t *testing.T) {
	in := "  पहला   वाक्य \n\n second   line "
	once := NormalizeText(in)
	assert.Equal(t, once, NormalizeText(once))
}
