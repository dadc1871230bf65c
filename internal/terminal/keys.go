package terminal

import "strings"

// Key names a non-character key. KeyNone means the event carries a plain
// code point.
type Key int

const (
	KeyNone Key = iota
	KeyEnter
	KeyUp
	KeyDown
	KeyRight
	KeyLeft
	KeyF1
	KeyF2
	KeyF3
	KeyF4
	KeyF5
	KeyF6
	KeyF7
	KeyF8
	KeyF9
	KeyF10
	KeyF11
	KeyF12
	KeyHome
	KeyInsert
	KeyDelete
	KeyEnd
	KeyPageUp
	KeyPageDown
)

// KeyEvent is one keystroke from a player.
type KeyEvent struct {
	Code    rune
	Special Key
	Alt     bool
	Ctrl    bool
}

var specialKeySequences = map[Key]string{
	KeyEnter:    "\r",
	KeyUp:       "\x1bOA",
	KeyDown:     "\x1bOB",
	KeyRight:    "\x1bOC",
	KeyLeft:     "\x1bOD",
	KeyF1:       "\x1bOP",
	KeyF2:       "\x1bOQ",
	KeyF3:       "\x1bOR",
	KeyF4:       "\x1bOS",
	KeyF5:       "\x1b[15~",
	KeyF6:       "\x1b[17~",
	KeyF7:       "\x1b[18~",
	KeyF8:       "\x1b[19~",
	KeyF9:       "\x1b[20~",
	KeyF10:      "\x1b[21~",
	KeyF11:      "\x1b[22~",
	KeyF12:      "\x1b[23~",
	KeyHome:     "\x1b[1~",
	KeyInsert:   "\x1b[2~",
	KeyDelete:   "\x1b[3~",
	KeyEnd:      "\x1b[4~",
	KeyPageUp:   "\x1b[5~",
	KeyPageDown: "\x1b[6~",
}

var keyNames = map[string]Key{
	"enter":     KeyEnter,
	"return":    KeyEnter,
	"up":        KeyUp,
	"down":      KeyDown,
	"right":     KeyRight,
	"left":      KeyLeft,
	"f1":        KeyF1,
	"f2":        KeyF2,
	"f3":        KeyF3,
	"f4":        KeyF4,
	"f5":        KeyF5,
	"f6":        KeyF6,
	"f7":        KeyF7,
	"f8":        KeyF8,
	"f9":        KeyF9,
	"f10":       KeyF10,
	"f11":       KeyF11,
	"f12":       KeyF12,
	"home":      KeyHome,
	"insert":    KeyInsert,
	"delete":    KeyDelete,
	"end":       KeyEnd,
	"pageup":    KeyPageUp,
	"page_up":   KeyPageUp,
	"pagedown":  KeyPageDown,
	"page_down": KeyPageDown,
}

// ParseKey looks up a special key by name, case-insensitively.
func ParseKey(name string) (Key, bool) {
	k, ok := keyNames[strings.ToLower(strings.TrimSpace(name))]
	return k, ok
}

// AppendKey appends the bytes a terminal sends for ev. Ctrl combined with a
// navigation key sends the unmodified sequence. Characters the codec cannot
// represent produce nothing.
func AppendKey(dst []byte, ev KeyEvent, codec Codec) []byte {
	var body []byte
	switch {
	case ev.Special != KeyNone:
		body = []byte(specialKeySequences[ev.Special])
	case ev.Code == '\n':
		body = []byte{'\r'}
	case ev.Ctrl && isASCIILetter(ev.Code):
		body = []byte{byte(toUpperASCII(ev.Code) - 'A' + 1)}
	default:
		var ok bool
		body, ok = codec.AppendRune(nil, ev.Code)
		if !ok {
			body = nil
		}
	}
	if len(body) == 0 {
		return dst
	}
	if ev.Alt {
		dst = append(dst, 0x1b)
	}
	return append(dst, body...)
}

func isASCIILetter(r rune) bool {
	return (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z')
}

func toUpperASCII(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}
