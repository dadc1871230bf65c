package terminal

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTranscriptBeforeWrap(t *testing.T) {
	tr := NewTranscript(16)
	tr.WriteString("hello ")
	tr.WriteString("world")

	text, truncated := tr.Text()
	assert.Equal(t, "hello world", text)
	assert.False(t, truncated)
	assert.Equal(t, int64(11), tr.Total())
}

func TestTranscriptWrapsKeepingNewest(t *testing.T) {
	tr := NewTranscript(8)
	tr.WriteString("abcdef")
	tr.WriteString("ghijk")

	text, truncated := tr.Text()
	assert.Equal(t, "defghijk", text)
	assert.True(t, truncated)
	assert.Equal(t, int64(11), tr.Total())
}

func TestTranscriptExactFill(t *testing.T) {
	tr := NewTranscript(4)
	tr.WriteString("abcd")

	text, truncated := tr.Text()
	assert.Equal(t, "abcd", text)
	assert.False(t, truncated)
}

func TestTranscriptOversizedWrite(t *testing.T) {
	tr := NewTranscript(4)
	tr.WriteString("x")
	tr.WriteString(strings.Repeat("y", 10) + "1234")

	text, _ := tr.Text()
	assert.Equal(t, "1234", text)
}

func TestTranscriptDropsSplitRune(t *testing.T) {
	tr := NewTranscript(4)
	tr.WriteString("界界") // the ring keeps the last byte of the first 界

	text, truncated := tr.Text()
	assert.True(t, truncated)
	assert.Equal(t, "界", text)
}

func TestTranscriptDefaultSize(t *testing.T) {
	tr := NewTranscript(0)
	assert.Equal(t, 64*1024, tr.size)
}
