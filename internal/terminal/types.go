package terminal

const (
	DefaultFg = 7
	DefaultBg = 0
)

// Cell is one character position on the screen.
type Cell struct {
	Symbol  rune  `json:"ch"`
	Fg      uint8 `json:"fg"`
	Bg      uint8 `json:"bg"`
	Bold    bool  `json:"bold,omitempty"`
	Inverse bool  `json:"inverse,omitempty"`
}

// BlankCell is what fills new or erased screen area.
var BlankCell = Cell{Symbol: ' ', Fg: DefaultFg, Bg: DefaultBg}

type Cursor struct {
	X       int  `json:"x"`
	Y       int  `json:"y"`
	Visible bool `json:"visible"`
}

// Grid is a display-ready copy of a rectangle of cells in row-major order.
type Grid struct {
	Width  int    `json:"cols"`
	Height int    `json:"rows"`
	Cells  []Cell `json:"cells"`
}

func NewGrid(width, height int) Grid {
	g := Grid{Width: width, Height: height, Cells: make([]Cell, width*height)}
	for i := range g.Cells {
		g.Cells[i] = BlankCell
	}
	return g
}

// At returns the cell at x, y, or BlankCell when out of range.
func (g Grid) At(x, y int) Cell {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return BlankCell
	}
	return g.Cells[y*g.Width+x]
}

type UpdateKind int

const (
	// UpdateOutput is sent once per drain cycle that produced text.
	UpdateOutput UpdateKind = iota
	// UpdateClosed is the last update of a session.
	UpdateClosed
)

func (k UpdateKind) String() string {
	switch k {
	case UpdateOutput:
		return "output"
	case UpdateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

type Update struct {
	Kind UpdateKind
	Seq  int64
}
