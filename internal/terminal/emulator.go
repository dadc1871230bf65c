package terminal

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/x/ansi"
)

// maxPendingEscape bounds how much of an unterminated escape sequence is
// carried between Feed calls before it is discarded as garbage.
const maxPendingEscape = 4096

// maxParam caps numeric CSI parameters, as xterm does.
const maxParam = 65535

type vtState struct {
	pen         Cell
	savedX      int
	savedY      int
	top         int
	bottom      int
	pendingWrap bool
	noAutowrap  bool
	pending     string
}

func (v *vtState) reset(height int) {
	*v = vtState{
		pen:    BlankCell,
		top:    0,
		bottom: height - 1,
	}
}

// feed runs with the write lock held.
func (b *Buffer) feed(text string) {
	if b.vt.pending != "" {
		text = b.vt.pending + text
		b.vt.pending = ""
	}
	if i := incompleteEscape(text); i >= 0 {
		if len(text)-i <= maxPendingEscape {
			b.vt.pending = text[i:]
		}
		text = text[:i]
	}

	var state byte
	for len(text) > 0 {
		seq, width, n, newState := ansi.DecodeSequence(text, state, nil)
		state = newState
		if n <= 0 {
			seq, n = text[:1], 1
		}
		text = text[n:]

		if width > 0 {
			b.print(seq, width)
			continue
		}
		switch {
		case len(seq) == 1 && (seq[0] < 0x20 || seq[0] == 0x7f):
			b.control(seq[0])
		case len(seq) > 1 && seq[0] == ansi.ESC:
			b.escape(seq[1:])
		}
	}
}

// incompleteEscape returns the index at which text ends in an escape
// sequence that has not been terminated yet, or -1.
func incompleteEscape(text string) int {
	i := strings.LastIndexByte(text, ansi.ESC)
	if i < 0 {
		return -1
	}
	if s := lastStringStart(text); s >= 0 {
		body := text[s+2:]
		if strings.IndexByte(body, ansi.BEL) < 0 && !strings.Contains(body, "\x1b\\") {
			return s
		}
	}

	rest := text[i+1:]
	if rest == "" {
		return i
	}
	switch rest[0] {
	case '[':
		for j := 1; j < len(rest); j++ {
			if c := rest[j]; c >= 0x40 && c <= 0x7e {
				return -1
			}
		}
		return i
	case ']', 'P', '_', '^', 'X', '\\':
		return -1
	}
	// ESC, intermediates 0x20-0x2f, then one final byte.
	for j := 0; j < len(rest); j++ {
		if c := rest[j]; c < 0x20 || c > 0x2f {
			return -1
		}
	}
	return i
}

// lastStringStart finds the last OSC, DCS, APC, PM or SOS introducer.
func lastStringStart(text string) int {
	for i := len(text) - 2; i >= 0; i-- {
		if text[i] != ansi.ESC {
			continue
		}
		switch text[i+1] {
		case ']', 'P', '_', '^', 'X':
			return i
		}
	}
	return -1
}

func (b *Buffer) set(x, y int, c Cell) {
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return
	}
	b.cells[y*b.width+x] = c
}

func (b *Buffer) erased() Cell {
	c := b.vt.pen
	c.Symbol = ' '
	return c
}

func (b *Buffer) print(grapheme string, width int) {
	r, _ := utf8.DecodeRuneInString(grapheme)
	if width > b.width {
		width = 1
	}

	if b.vt.pendingWrap {
		b.vt.pendingWrap = false
		b.cursor.X = 0
		b.lineFeed()
	}
	if b.cursor.X+width > b.width {
		if b.vt.noAutowrap {
			b.cursor.X = b.width - width
		} else {
			b.cursor.X = 0
			b.lineFeed()
		}
	}

	c := b.vt.pen
	c.Symbol = r
	b.set(b.cursor.X, b.cursor.Y, c)
	for i := 1; i < width; i++ {
		c.Symbol = 0
		b.set(b.cursor.X+i, b.cursor.Y, c)
	}

	b.cursor.X += width
	if b.cursor.X >= b.width {
		b.cursor.X = b.width - 1
		b.vt.pendingWrap = !b.vt.noAutowrap
	}
}

func (b *Buffer) control(c byte) {
	switch c {
	case '\r':
		b.cursor.X = 0
		b.vt.pendingWrap = false
	case '\n', '\v', '\f':
		b.lineFeed()
		b.vt.pendingWrap = false
	case '\b':
		if b.cursor.X > 0 {
			b.cursor.X--
		}
		b.vt.pendingWrap = false
	case '\t':
		b.cursor.X = min((b.cursor.X/8+1)*8, b.width-1)
		b.vt.pendingWrap = false
	}
}

// lineFeed moves down one row, scrolling at the bottom margin.
func (b *Buffer) lineFeed() {
	if b.cursor.Y == b.vt.bottom {
		b.scrollUp(1)
		return
	}
	if b.cursor.Y < b.height-1 {
		b.cursor.Y++
	}
}

func (b *Buffer) reverseIndex() {
	if b.cursor.Y == b.vt.top {
		b.scrollDown(1)
		return
	}
	if b.cursor.Y > 0 {
		b.cursor.Y--
	}
}

// scrollUp shifts the scroll region up by n rows.
func (b *Buffer) scrollUp(n int) {
	b.shiftRows(b.vt.top, b.vt.bottom, n)
}

func (b *Buffer) scrollDown(n int) {
	b.shiftRows(b.vt.top, b.vt.bottom, -n)
}

// shiftRows moves rows top..bottom by n (positive is up) and blanks the
// rows uncovered.
func (b *Buffer) shiftRows(top, bottom, n int) {
	if top < 0 || bottom >= b.height || top > bottom || n == 0 {
		return
	}
	rows := bottom - top + 1
	blank := b.erased()
	if n >= rows || -n >= rows {
		b.fill(0, top, b.width, bottom, blank)
		return
	}
	w := b.width
	if n > 0 {
		copy(b.cells[top*w:], b.cells[(top+n)*w:(bottom+1)*w])
		b.fill(0, bottom-n+1, w, bottom, blank)
	} else {
		n = -n
		copy(b.cells[(top+n)*w:(bottom+1)*w], b.cells[top*w:(bottom+1-n)*w])
		b.fill(0, top, w, top+n-1, blank)
	}
}

// fill sets columns [x0, x1) on rows y0..y1 inclusive.
func (b *Buffer) fill(x0, y0, x1, y1 int, c Cell) {
	for y := max(y0, 0); y <= min(y1, b.height-1); y++ {
		for x := max(x0, 0); x < min(x1, b.width); x++ {
			b.cells[y*b.width+x] = c
		}
	}
}

func (b *Buffer) moveTo(x, y int) {
	b.cursor.X = min(max(x, 0), b.width-1)
	b.cursor.Y = min(max(y, 0), b.height-1)
	b.vt.pendingWrap = false
}

func (b *Buffer) escape(body string) {
	if body == "" {
		return
	}
	switch body[0] {
	case '[':
		b.csi(body[1:])
	case '7':
		b.vt.savedX, b.vt.savedY = b.cursor.X, b.cursor.Y
	case '8':
		b.moveTo(b.vt.savedX, b.vt.savedY)
	case 'M':
		b.reverseIndex()
	case 'D':
		b.lineFeed()
	case 'E':
		b.cursor.X = 0
		b.lineFeed()
	case 'c':
		b.fill(0, 0, b.width, b.height-1, BlankCell)
		b.vt.reset(b.height)
		b.cursor = Cursor{Visible: true}
	case '#':
		if body == "#8" {
			b.fill(0, 0, b.width, b.height-1, Cell{Symbol: 'E', Fg: DefaultFg, Bg: DefaultBg})
		}
	}
}

// csi handles a control sequence; body excludes the ESC [ introducer.
func (b *Buffer) csi(body string) {
	if body == "" {
		return
	}
	final := body[len(body)-1]
	params := body[:len(body)-1]
	private := false
	if params != "" && strings.ContainsRune("?<=>", rune(params[0])) {
		private = params[0] == '?'
		if !private {
			return
		}
		params = params[1:]
	}
	// Drop intermediates such as the space in "CSI Ps SP q".
	params = strings.TrimRight(params, " !\"#$%&'()*+,-./")
	args := parseParams(params)

	if private {
		switch final {
		case 'h':
			b.setPrivateModes(args, true)
		case 'l':
			b.setPrivateModes(args, false)
		case 'J':
			b.eraseDisplay(arg(args, 0, 0))
		case 'K':
			b.eraseLine(arg(args, 0, 0))
		}
		return
	}

	n := arg(args, 0, 1)
	switch final {
	case 'A':
		b.moveTo(b.cursor.X, b.cursor.Y-n)
	case 'B', 'e':
		b.moveTo(b.cursor.X, b.cursor.Y+n)
	case 'C', 'a':
		b.moveTo(b.cursor.X+n, b.cursor.Y)
	case 'D':
		b.moveTo(b.cursor.X-n, b.cursor.Y)
	case 'E':
		b.moveTo(0, b.cursor.Y+n)
	case 'F':
		b.moveTo(0, b.cursor.Y-n)
	case 'G', '`':
		b.moveTo(n-1, b.cursor.Y)
	case 'd':
		b.moveTo(b.cursor.X, n-1)
	case 'H', 'f':
		b.moveTo(arg(args, 1, 1)-1, n-1)
	case 'J':
		b.eraseDisplay(arg(args, 0, 0))
	case 'K':
		b.eraseLine(arg(args, 0, 0))
	case 'L':
		if b.cursor.Y >= b.vt.top && b.cursor.Y <= b.vt.bottom {
			b.shiftRows(b.cursor.Y, b.vt.bottom, -n)
		}
	case 'M':
		if b.cursor.Y >= b.vt.top && b.cursor.Y <= b.vt.bottom {
			b.shiftRows(b.cursor.Y, b.vt.bottom, n)
		}
	case 'P':
		b.deleteChars(n)
	case '@':
		b.insertChars(n)
	case 'X':
		b.fill(b.cursor.X, b.cursor.Y, b.cursor.X+n, b.cursor.Y, b.erased())
	case 'S':
		b.scrollUp(n)
	case 'T':
		if len(args) <= 1 {
			b.scrollDown(n)
		}
	case 'Z':
		// Beyond width/8+1 stops the cursor is already at column 0.
		for i := 0; i < min(n, b.width/8+1); i++ {
			b.cursor.X = max((b.cursor.X-1)/8*8, 0)
		}
		b.vt.pendingWrap = false
	case 'b':
		b.repeatLast(n)
	case 'r':
		top := arg(args, 0, 1) - 1
		bottom := arg(args, 1, b.height) - 1
		if top < bottom && bottom < b.height {
			b.vt.top, b.vt.bottom = top, bottom
			b.moveTo(0, 0)
		}
	case 's':
		b.vt.savedX, b.vt.savedY = b.cursor.X, b.cursor.Y
	case 'u':
		b.moveTo(b.vt.savedX, b.vt.savedY)
	case 'm':
		b.sgr(args)
	}
}

func (b *Buffer) setPrivateModes(args []int, on bool) {
	for _, mode := range args {
		switch mode {
		case 25:
			b.cursor.Visible = on
		case 7:
			b.vt.noAutowrap = !on
			if !on {
				b.vt.pendingWrap = false
			}
		case 1049:
			// No alternate screen; only the cursor is saved and restored.
			if on {
				b.vt.savedX, b.vt.savedY = b.cursor.X, b.cursor.Y
			} else {
				b.moveTo(b.vt.savedX, b.vt.savedY)
			}
		}
	}
}

func (b *Buffer) eraseDisplay(mode int) {
	blank := b.erased()
	x, y := b.cursor.X, b.cursor.Y
	switch mode {
	case 0:
		b.fill(x, y, b.width, y, blank)
		b.fill(0, y+1, b.width, b.height-1, blank)
	case 1:
		b.fill(0, 0, b.width, y-1, blank)
		b.fill(0, y, x+1, y, blank)
	case 2, 3:
		b.fill(0, 0, b.width, b.height-1, blank)
	}
}

func (b *Buffer) eraseLine(mode int) {
	blank := b.erased()
	x, y := b.cursor.X, b.cursor.Y
	switch mode {
	case 0:
		b.fill(x, y, b.width, y, blank)
	case 1:
		b.fill(0, y, x+1, y, blank)
	case 2:
		b.fill(0, y, b.width, y, blank)
	}
}

func (b *Buffer) deleteChars(n int) {
	row := b.cells[b.cursor.Y*b.width : (b.cursor.Y+1)*b.width]
	x := b.cursor.X
	n = min(n, b.width-x)
	copy(row[x:], row[x+n:])
	for i := b.width - n; i < b.width; i++ {
		row[i] = b.erased()
	}
}

func (b *Buffer) insertChars(n int) {
	row := b.cells[b.cursor.Y*b.width : (b.cursor.Y+1)*b.width]
	x := b.cursor.X
	n = min(n, b.width-x)
	copy(row[x+n:], row[x:b.width-n])
	for i := x; i < x+n; i++ {
		row[i] = b.erased()
	}
}

func (b *Buffer) repeatLast(n int) {
	x := b.cursor.X - 1
	if b.vt.pendingWrap {
		x = b.cursor.X
	}
	if x < 0 {
		return
	}
	sym := b.cells[b.cursor.Y*b.width+x].Symbol
	if sym == 0 {
		return
	}
	s := string(sym)
	for i := 0; i < min(n, b.width*b.height); i++ {
		b.print(s, 1)
	}
}

func (b *Buffer) sgr(args []int) {
	if len(args) == 0 {
		args = []int{0}
	}
	pen := &b.vt.pen
	for i := 0; i < len(args); i++ {
		switch p := args[i]; {
		case p == 0:
			*pen = BlankCell
		case p == 1:
			pen.Bold = true
		case p == 22:
			pen.Bold = false
		case p == 7:
			pen.Inverse = true
		case p == 27:
			pen.Inverse = false
		case p >= 30 && p <= 37:
			pen.Fg = uint8(p - 30)
		case p == 39:
			pen.Fg = DefaultFg
		case p >= 40 && p <= 47:
			pen.Bg = uint8(p - 40)
		case p == 49:
			pen.Bg = DefaultBg
		case p >= 90 && p <= 97:
			pen.Fg = uint8(p - 90)
			pen.Bold = true
		case p >= 100 && p <= 107:
			pen.Bg = uint8(p - 100)
		case p == 38 || p == 48:
			color, used := extendedColor(args[i+1:])
			i += used
			if color < 0 {
				continue
			}
			if p == 38 {
				pen.Fg = uint8(color)
			} else {
				pen.Bg = uint8(color)
			}
		}
	}
}

// extendedColor reads the tail of an SGR 38/48 and returns a palette index
// in 0..7 (or -1) plus how many parameters it consumed.
func extendedColor(args []int) (int, int) {
	if len(args) == 0 {
		return -1, 0
	}
	switch args[0] {
	case 5:
		if len(args) < 2 {
			return -1, len(args)
		}
		return xterm256ToBasic(args[1]), 2
	case 2:
		if len(args) < 4 {
			return -1, len(args)
		}
		return rgbToBasic(args[1], args[2], args[3]), 4
	}
	return -1, 1
}

func xterm256ToBasic(n int) int {
	switch {
	case n < 0 || n > 255:
		return -1
	case n < 8:
		return n
	case n < 16:
		return n - 8
	case n < 232:
		n -= 16
		return rgbToBasic(n/36*51, n/6%6*51, n%6*51)
	default:
		level := (n-232)*10 + 8
		return rgbToBasic(level, level, level)
	}
}

// rgbToBasic thresholds each channel; bit 0 is red, 1 green, 2 blue, the
// same layout as SGR 30-37.
func rgbToBasic(r, g, b int) int {
	c := 0
	if r >= 128 {
		c |= 1
	}
	if g >= 128 {
		c |= 2
	}
	if b >= 128 {
		c |= 4
	}
	return c
}

func parseParams(s string) []int {
	if s == "" {
		return nil
	}
	fields := strings.Split(strings.ReplaceAll(s, ":", ";"), ";")
	args := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		switch {
		case errors.Is(err, strconv.ErrRange) && !strings.HasPrefix(f, "-"):
			n = maxParam
		case err != nil, n < 0:
			n = 0
		}
		args = append(args, min(n, maxParam))
	}
	return args
}

// arg returns args[i], substituting def for missing or zero values.
func arg(args []int, i, def int) int {
	if i >= len(args) || args[i] == 0 {
		return def
	}
	return args[i]
}
