package terminal

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

var (
	// ErrDecode reports output that is not valid in the session's encoding.
	// The offending chunk is discarded.
	ErrDecode          = errors.New("invalid text in process output")
	ErrUnknownEncoding = errors.New("unknown text encoding")
)

// Codec converts between a process's byte stream and text. Decode keeps
// state between calls so that a multi-byte character split across reads is
// decoded once, whole.
type Codec interface {
	Name() string
	Decode(p []byte) (string, error)
	AppendRune(dst []byte, r rune) ([]byte, bool)
}

// NewCodec returns a codec for "utf-8" or "cp437".
func NewCodec(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "utf-8", "utf8":
		return &UTF8Codec{}, nil
	case "cp437", "ibm437":
		return CP437Codec{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEncoding, name)
	}
}

type UTF8Codec struct {
	pending []byte
}

func (c *UTF8Codec) Name() string { return "utf-8" }

func (c *UTF8Codec) Decode(p []byte) (string, error) {
	data := p
	if len(c.pending) > 0 {
		data = append(c.pending, p...)
		c.pending = nil
	}
	if n := incompleteUTF8Tail(data); n > 0 {
		c.pending = append([]byte(nil), data[len(data)-n:]...)
		data = data[:len(data)-n]
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %d bytes dropped", ErrDecode, len(data))
	}
	return string(data), nil
}

func (c *UTF8Codec) AppendRune(dst []byte, r rune) ([]byte, bool) {
	if !utf8.ValidRune(r) {
		return dst, false
	}
	return utf8.AppendRune(dst, r), true
}

// incompleteUTF8Tail returns the length of a trailing, not yet complete,
// multi-byte sequence.
func incompleteUTF8Tail(b []byte) int {
	for i := 1; i <= utf8.UTFMax-1 && i <= len(b); i++ {
		start := len(b) - i
		if !utf8.RuneStart(b[start]) {
			continue
		}
		if utf8.FullRune(b[start:]) {
			return 0
		}
		return i
	}
	return 0
}

// CP437Codec maps the IBM PC character set. Every byte decodes.
type CP437Codec struct{}

func (CP437Codec) Name() string { return "cp437" }

func (CP437Codec) Decode(p []byte) (string, error) {
	var b strings.Builder
	b.Grow(len(p))
	for _, c := range p {
		b.WriteRune(charmap.CodePage437.DecodeByte(c))
	}
	return b.String(), nil
}

func (CP437Codec) AppendRune(dst []byte, r rune) ([]byte, bool) {
	c, ok := charmap.CodePage437.EncodeRune(r)
	if !ok {
		return dst, false
	}
	return append(dst, c), true
}
