package terminal

import (
	"strings"
)

// Lines returns each row of the grid as text with trailing blanks trimmed.
func (g Grid) Lines() []string {
	lines := make([]string, g.Height)
	var b strings.Builder
	for y := 0; y < g.Height; y++ {
		b.Reset()
		for _, c := range g.Cells[y*g.Width : (y+1)*g.Width] {
			// Zero marks the right half of a wide character.
			if c.Symbol == 0 {
				continue
			}
			b.WriteRune(c.Symbol)
		}
		lines[y] = strings.TrimRight(b.String(), " ")
	}
	return lines
}

// String joins Lines with newlines.
func (g Grid) String() string {
	return strings.Join(g.Lines(), "\n")
}

// Styles collapses each row into runs of identically styled cells. Viewers
// that paint spans instead of cells use it to keep frames small.
func (g Grid) Styles() [][]Span {
	rows := make([][]Span, g.Height)
	for y := 0; y < g.Height; y++ {
		var spans []Span
		for x := 0; x < g.Width; x++ {
			c := g.Cells[y*g.Width+x]
			if c.Symbol == 0 {
				continue
			}
			if n := len(spans); n > 0 && spans[n-1].sameStyle(c) {
				spans[n-1].Text += string(c.Symbol)
				continue
			}
			spans = append(spans, Span{Text: string(c.Symbol), Fg: c.Fg, Bg: c.Bg, Bold: c.Bold})
		}
		rows[y] = spans
	}
	return rows
}

// Span is a run of text sharing one style. Inverse is already applied.
type Span struct {
	Text string `json:"t"`
	Fg   uint8  `json:"fg"`
	Bg   uint8  `json:"bg"`
	Bold bool   `json:"b,omitempty"`
}

func (s Span) sameStyle(c Cell) bool {
	return s.Fg == c.Fg && s.Bg == c.Bg && s.Bold == c.Bold
}
