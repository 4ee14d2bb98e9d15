package canvas

// Zoom bounds for the canvas viewport.
const (
	MinZoom = 0.1
	MaxZoom = 5.0
)

// Point is a coordinate in either canvas or screen space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Viewport maps canvas coordinates to screen coordinates:
//
//	screen = offset + canvas * zoom
type Viewport struct {
	OffsetX float64 `json:"offset_x"`
	OffsetY float64 `json:"offset_y"`
	Zoom    float64 `json:"zoom"`
}

// NewViewport returns an identity viewport.
func NewViewport() Viewport {
	return Viewport{Zoom: 1}
}

// ToScreen maps a canvas-space point to screen space.
func (v Viewport) ToScreen(p Point) Point {
	return Point{
		X: v.OffsetX + p.X*v.Zoom,
		Y: v.OffsetY + p.Y*v.Zoom,
	}
}

// ToCanvas maps a screen-space point back to canvas space.
func (v Viewport) ToCanvas(p Point) Point {
	return Point{
		X: (p.X - v.OffsetX) / v.Zoom,
		Y: (p.Y - v.OffsetY) / v.Zoom,
	}
}

// Pan shifts the viewport offset by a screen-space delta.
func (v Viewport) Pan(dx, dy float64) Viewport {
	v.OffsetX += dx
	v.OffsetY += dy
	return v
}

// ZoomAt multiplies the zoom by factor, anchored at the given screen point:
// the canvas point under the cursor stays under the cursor. The new offset is
// solved from anchor = offset' + canvasPoint * zoom'.
func (v Viewport) ZoomAt(factor float64, anchor Point) Viewport {
	next := clampZoom(v.Zoom * factor)
	if next == v.Zoom {
		return v
	}
	canvasPoint := v.ToCanvas(anchor)
	v.OffsetX = anchor.X - canvasPoint.X*next
	v.OffsetY = anchor.Y - canvasPoint.Y*next
	v.Zoom = next
	return v
}

func clampZoom(z float64) float64 {
	if z < MinZoom {
		return MinZoom
	}
	if z > MaxZoom {
		return MaxZoom
	}
	return z
}
