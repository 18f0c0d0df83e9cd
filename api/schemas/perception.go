package schemas

import "time"

// Point is a pixel coordinate on the device screen.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Bounds describes the rectangle an element occupies on screen.
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the midpoint of the bounds, the default tap location.
func (b Bounds) Center() Point {
	return Point{X: b.X + b.Width/2, Y: b.Y + b.Height/2}
}

// Contains reports whether the point falls inside the rectangle.
func (b Bounds) Contains(p Point) bool {
	return p.X >= b.X && p.X < b.X+b.Width && p.Y >= b.Y && p.Y < b.Y+b.Height
}

// RelativePoint returns a point at the given fractional offsets inside the
// bounds, e.g. (0.99, 0.99) for the bottom-right corner.
func (b Bounds) RelativePoint(xFrac, yFrac float64) Point {
	return Point{
		X: b.X + int(float64(b.Width)*xFrac),
		Y: b.Y + int(float64(b.Height)*yFrac),
	}
}

// UIElement is one node of the device's UI hierarchy as reported by the
// perception source.
type UIElement struct {
	ResourceID string      `json:"resource_id,omitempty"`
	Text       string      `json:"text,omitempty"`
	Class      string      `json:"class,omitempty"`
	Bounds     Bounds      `json:"bounds"`
	Focused    bool        `json:"focused,omitempty"`
	Clickable  bool        `json:"clickable,omitempty"`
	Children   []UIElement `json:"children,omitempty"`
}

// ScreenSnapshot is one observation of the device: the flattened UI hierarchy,
// screen geometry, a JPEG screenshot, and the foreground application. The
// decision engine only ever reasons over a snapshot taken at turn start; it
// must not assume the device is unchanged after an unpredictable action.
type ScreenSnapshot struct {
	TakenAt       time.Time   `json:"taken_at"`
	Elements      []UIElement `json:"elements"`
	Width         int         `json:"width"`
	Height        int         `json:"height"`
	ScreenshotB64 string      `json:"screenshot_b64,omitempty"`
	Platform      string      `json:"platform,omitempty"`
	FocusedApp    string      `json:"focused_app,omitempty"`
}

// Walk visits every element of the hierarchy depth-first.
func (s *ScreenSnapshot) Walk(visit func(el *UIElement) bool) {
	var rec func(els []UIElement) bool
	rec = func(els []UIElement) bool {
		for i := range els {
			if !visit(&els[i]) {
				return false
			}
			if !rec(els[i].Children) {
				return false
			}
		}
		return true
	}
	rec(s.Elements)
}
