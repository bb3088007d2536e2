package domain

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateIdentity(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "valid", input: "alice", wantErr: nil},
		{name: "empty", input: "", wantErr: ErrIdentityEmpty},
		{name: "max length", input: strings.Repeat("a", MaxIdentityLen), wantErr: nil},
		{name: "too long", input: strings.Repeat("a", MaxIdentityLen+1), wantErr: ErrIdentityTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateIdentity(tt.input)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestValidateRoomID(t *testing.T) {
	assert.NoError(t, ValidateRoomID("r1"))
	assert.ErrorIs(t, ValidateRoomID(""), ErrRoomIDEmpty)
}
