// Package uiautomator2 is a small client for the UIAutomator2 server: session
// lifecycle, page source, screenshots, taps and the window rectangle.
package uiautomator2

import "fmt"

// Capabilities for session creation.
type Capabilities struct {
	PlatformName string `json:"platformName,omitempty"`
	DeviceName   string `json:"deviceName,omitempty"`
}

// SessionRequest for creating a session.
type SessionRequest struct {
	Capabilities Capabilities `json:"capabilities"`
}

// PointModel represents coordinates.
type PointModel struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// ClickRequest for tap gestures.
type ClickRequest struct {
	Offset *PointModel `json:"offset,omitempty"`
}

// WindowRect from the window rect endpoint.
type WindowRect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ServerError is an error reported by the server in a W3C error value.
type ServerError struct {
	Status  int
	Type    string // e.g. "no such element"
	Message string
}

func (e *ServerError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("server error %d: %s", e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}
