package terminal

import (
	"sync"
)

// Buffer is the screen state of one session. Exactly one goroutine feeds it;
// any number may read it concurrently.
type Buffer struct {
	mu     sync.RWMutex
	width  int
	height int
	cells  []Cell
	cursor Cursor
	vt     vtState
}

func NewBuffer(width, height int) *Buffer {
	b := &Buffer{}
	b.resize(max(width, 1), max(height, 1))
	b.cursor.Visible = true
	b.vt.reset(b.height)
	return b
}

// Resize replaces the grid, keeping every cell that still fits and filling
// the rest with BlankCell.
func (b *Buffer) Resize(width, height int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resize(max(width, 1), max(height, 1))
}

func (b *Buffer) resize(width, height int) {
	if width == b.width && height == b.height {
		return
	}
	cells := make([]Cell, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x < b.width && y < b.height {
				cells[y*width+x] = b.cells[y*b.width+x]
			} else {
				cells[y*width+x] = BlankCell
			}
		}
	}
	b.cells = cells
	b.width = width
	b.height = height
	b.cursor.X = min(b.cursor.X, width-1)
	b.cursor.Y = min(b.cursor.Y, height-1)
	b.vt.top = 0
	b.vt.bottom = height - 1
	b.vt.pendingWrap = false
}

// Feed advances the emulator with decoded process output.
func (b *Buffer) Feed(text string) {
	if text == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.feed(text)
}

func (b *Buffer) Size() (int, int) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.width, b.height
}

func (b *Buffer) Cursor() Cursor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cursor
}

// Cell returns the live cell at x, y, or BlankCell outside the grid.
func (b *Buffer) Cell(x, y int) Cell {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if x < 0 || y < 0 || x >= b.width || y >= b.height {
		return BlankCell
	}
	return b.cells[y*b.width+x]
}

// Lines returns the live screen as text, one string per row.
func (b *Buffer) Lines() []string {
	b.mu.RLock()
	g := Grid{Width: b.width, Height: b.height, Cells: append([]Cell(nil), b.cells...)}
	b.mu.RUnlock()
	return g.Lines()
}

// Snapshot renders the screen into a width x height viewport. Along each
// axis the live area is centered when the viewport is larger and anchored
// at its top-left corner, then clipped, when the viewport is smaller.
// Cells outside the live area are blank. Foreground and background are
// swapped on inverse cells and under the visible cursor, and the returned
// cells never carry the Inverse flag.
func (b *Buffer) Snapshot(width, height int) Grid {
	width, height = max(width, 0), max(height, 0)
	out := Grid{Width: width, Height: height, Cells: make([]Cell, width*height)}

	b.mu.RLock()
	defer b.mu.RUnlock()

	offX := max((width-b.width)/2, 0)
	offY := max((height-b.height)/2, 0)
	for y := 0; y < height; y++ {
		sy := y - offY
		for x := 0; x < width; x++ {
			sx := x - offX
			if sx < 0 || sy < 0 || sx >= b.width || sy >= b.height {
				out.Cells[y*width+x] = BlankCell
				continue
			}
			c := b.cells[sy*b.width+sx]
			swap := c.Inverse
			if b.cursor.Visible && sx == b.cursor.X && sy == b.cursor.Y {
				swap = !swap
			}
			if swap {
				c.Fg, c.Bg = c.Bg, c.Fg
			}
			c.Inverse = false
			out.Cells[y*width+x] = c
		}
	}
	return out
}
