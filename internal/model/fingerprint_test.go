package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContentHash(t *testing.T) {
	t.Parallel()

	base := ContentHash("Crash on save", "Steps:\n1. open\n2. save")

	tests := []struct {
		name  string
		title string
		body  string
		same  bool
	}{
		{"identical", "Crash on save", "Steps:\n1. open\n2. save", true},
		{"crlf line endings", "Crash on save", "Steps:\r\n1. open\r\n2. save", true},
		{"surrounding whitespace", "  Crash on save ", "Steps:\n1. open\n2. save\n", true},
		{"title edit", "Crash on save!", "Steps:\n1. open\n2. save", false},
		{"body edit", "Crash on save", "Steps:\n1. open\n2. save\n3. boom", false},
		{"title and body swapped boundary", "Crash on saveSteps:", "\n1. open\n2. save", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := ContentHash(tt.title, tt.body)
			if tt.same {
				assert.Equal(t, base, got)
			} else {
				assert.NotEqual(t, base, got)
			}
		})
	}
}

func TestContentHash_NFC(t *testing.T) {
	t.Parallel()

	// "é" precomposed vs "e" + combining acute.
	assert.Equal(t, ContentHash("caf\u00e9", ""), ContentHash("cafe\u0301", ""))
}

func TestRawIssue_Fingerprint(t *testing.T) {
	t.Parallel()

	r := RawIssue{Number: 3, Title: "a", Body: "b", State: StateOpen, Labels: []string{"x"}}
	closed := r
	closed.State = StateClosed
	closed.Labels = nil

	assert.Equal(t, r.Fingerprint(), closed.Fingerprint(), "state and labels are not part of the fingerprint")
	assert.Len(t, r.Fingerprint(), 64)
}
