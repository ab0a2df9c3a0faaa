package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", "jane@example.com", "jane@example.com"},
		{"uppercase", "JANE@EXAMPLE.COM", "jane@example.com"},
		{"display name", "Jane Doe <Jane@Example.com>", "jane@example.com"},
		{"quoted display name", `"Doe, Jane" <jdoe@firm.com>`, "jdoe@firm.com"},
		{"whitespace", "  jane@example.com  ", "jane@example.com"},
		{"empty", "", ""},
		{"angle only", "<a@b.c>", "a@b.c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.in))
		})
	}
}

func TestParticipants(t *testing.T) {
	m := &EmailMessage{
		SenderEmail:  "Alice <alice@x.com>",
		ToRecipients: []string{"bob@x.com", "ALICE@X.COM"},
		CcRecipients: []string{"Carol <carol@y.org>"},
	}
	got := m.Participants()
	assert.Equal(t, []string{"alice@x.com", "bob@x.com", "carol@y.org"}, got)
}

func TestParticipantsEmpty(t *testing.T) {
	m := &EmailMessage{}
	assert.Empty(t, m.Participants())
}

func TestRunStatsAddErrorCap(t *testing.T) {
	var s RunStats
	for i := 0; i < 300; i++ {
		s.AddError("boom")
	}
	assert.Len(t, s.Errors, 200)
}
