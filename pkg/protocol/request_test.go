package protocol_test

import (
	"strings"
	"testing"

	"github.com/aretw0/flowbot/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTurnRequest_Validate(t *testing.T) {
	assert.NoError(t, protocol.TurnRequest{Phone: "+5511999990000", Text: "hi"}.Validate())
	assert.NoError(t, protocol.TurnRequest{Phone: "5511999990000", Text: "", Sender: "user"}.Validate())

	err := protocol.TurnRequest{Phone: "abc", Sender: "bot"}.Validate()
	require.Error(t, err)

	var verr *protocol.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Len(t, verr.Fields, 2)
	assert.Equal(t, protocol.StatusInvalidRequest, protocol.StatusFor(err))
}

func TestSanitizeText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		limit   int
		want    string
		wantErr error
	}{
		{name: "plain", input: "Hello", want: "Hello"},
		{name: "keeps newlines and tabs", input: "a\nb\tc\r", want: "a\nb\tc\r"},
		{name: "strips escape codes", input: "hi\x1b[31m!\x00", want: "hi[31m!"},
		{name: "too large", input: strings.Repeat("a", 11), limit: 10, wantErr: protocol.ErrInputTooLarge},
		{name: "invalid utf8", input: "bad\xff", wantErr: protocol.ErrInvalidUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.SanitizeText(tt.input, tt.limit)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, protocol.StatusInvalidRequest, protocol.StatusFor(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
