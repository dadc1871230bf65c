package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputKeyEvents(t *testing.T) {
	events, err := Input{Kind: InputKey, Key: &KeyEvent{Special: KeyUp}}.KeyEvents()
	require.NoError(t, err)
	assert.Equal(t, []KeyEvent{{Special: KeyUp}}, events)

	_, err = Input{Kind: InputKey}.KeyEvents()
	assert.ErrorIs(t, err, ErrMissingKey)
}

func TestInputTextEvents(t *testing.T) {
	events, err := Input{Kind: InputText, Text: "ok界"}.KeyEvents()
	require.NoError(t, err)
	assert.Equal(t, []KeyEvent{{Code: 'o'}, {Code: 'k'}, {Code: '界'}}, events)

	_, err = Input{Kind: InputText, Text: strings.Repeat("a", maxTextInput+1)}.KeyEvents()
	assert.ErrorIs(t, err, ErrTextTooLong)
}

func TestInputControlEvents(t *testing.T) {
	tests := []struct {
		signal ControlSignal
		want   byte
	}{
		{ControlInterrupt, 0x03},
		{ControlEOF, 0x04},
		{ControlSuspend, 0x1a},
	}
	for _, tt := range tests {
		events, err := Input{Kind: InputControl, Control: tt.signal}.KeyEvents()
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, []byte{tt.want}, AppendKey(nil, events[0], &UTF8Codec{}))
	}

	_, err := Input{Kind: InputControl, Control: ControlSignal(42)}.KeyEvents()
	assert.ErrorIs(t, err, ErrUnknownControl)

	_, err = Input{Kind: InputKind(9)}.KeyEvents()
	assert.ErrorIs(t, err, ErrUnknownInput)
}
