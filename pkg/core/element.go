// Package core holds the element model, enums, and error taxonomy shared by
// the extractors, the scheduler, and the interaction dispatcher.
package core

import (
	"encoding/json"
	"math"
)

// Element is the unified schema produced by both the accessibility-tree and
// the vision backends. Elements are never mutated after extraction.
type Element struct {
	UUID        string         `json:"uuid"`
	Type        ElementType    `json:"element_type"`
	Name        string         `json:"name"`
	Text        string         `json:"text"`
	Package     string         `json:"package"`
	ResourceID  string         `json:"resource_id"`
	ContentDesc string         `json:"content_desc"`
	ClassName   string         `json:"class_name"`
	Clickable   bool           `json:"clickable"`
	Bounds      NormBounds     `json:"bounds"`
	CenterX     float64        `json:"center_x"`
	CenterY     float64        `json:"center_y"`
	Confidence  float64        `json:"confidence"`
	Source      string         `json:"source"`
	Metadata    map[string]any `json:"metadata"`
}

// HasText returns true if the element carries non-blank text.
func (e Element) HasText() bool {
	for _, r := range e.Text {
		if r != ' ' && r != '\t' && r != '\n' && r != '\r' {
			return true
		}
	}
	return false
}

// NormBounds is [x1, y1, x2, y2] as fractions of screen width and height.
type NormBounds [4]float64

// NewNormBounds builds bounds that always satisfy 0 <= x1 <= x2 <= 1 and
// 0 <= y1 <= y2 <= 1. NaN coordinates become 0.
func NewNormBounds(x1, y1, x2, y2 float64) NormBounds {
	x1, x2 = clamp01(x1), clamp01(x2)
	y1, y2 = clamp01(y1), clamp01(y2)
	if x1 > x2 {
		x1, x2 = x2, x1
	}
	if y1 > y2 {
		y1, y2 = y2, y1
	}
	return NormBounds{x1, y1, x2, y2}
}

// Center returns the midpoint of the bounds.
func (b NormBounds) Center() (float64, float64) {
	return (b[0] + b[2]) / 2, (b[1] + b[3]) / 2
}

// IsZero returns true for the degenerate [0,0,0,0] box used for bad input.
func (b NormBounds) IsZero() bool {
	return b == NormBounds{}
}

// Valid reports whether the bounds satisfy the ordering and range invariants.
func (b NormBounds) Valid() bool {
	for _, v := range b {
		if v < 0 || v > 1 || math.IsNaN(v) {
			return false
		}
	}
	return b[0] <= b[2] && b[1] <= b[3]
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// Bounds represents element position and size in device pixels
type Bounds struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Center returns the center point of the bounds
func (b Bounds) Center() (int, int) {
	return b.X + b.Width/2, b.Y + b.Height/2
}

// Contains checks if a point is within the bounds
func (b Bounds) Contains(x, y int) bool {
	return x >= b.X && x < b.X+b.Width && y >= b.Y && y < b.Y+b.Height
}

// Normalize converts pixel bounds to screen fractions. A non-positive screen
// dimension yields zero bounds.
func (b Bounds) Normalize(screen ScreenSize) NormBounds {
	if !screen.Valid() {
		return NormBounds{}
	}
	w, h := float64(screen.Width), float64(screen.Height)
	return NewNormBounds(
		float64(b.X)/w,
		float64(b.Y)/h,
		float64(b.X+b.Width)/w,
		float64(b.Y+b.Height)/h,
	)
}

// ScreenSize is the device display size in pixels.
type ScreenSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Valid returns true if both dimensions are positive.
func (s ScreenSize) Valid() bool {
	return s.Width > 0 && s.Height > 0
}

// ToPixel maps a normalized point to the nearest device pixel.
func (s ScreenSize) ToPixel(nx, ny float64) (int, int) {
	return int(math.Round(nx * float64(s.Width))), int(math.Round(ny * float64(s.Height)))
}

// MarshalJSON encodes the size as [w, h] to match the snapshot schema.
func (s ScreenSize) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int{s.Width, s.Height})
}

// UnmarshalJSON decodes the [w, h] form.
func (s *ScreenSize) UnmarshalJSON(data []byte) error {
	var wh [2]int
	if err := json.Unmarshal(data, &wh); err != nil {
		return err
	}
	s.Width, s.Height = wh[0], wh[1]
	return nil
}
