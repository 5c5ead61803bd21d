package core

import (
	"fmt"
	"strings"
)

// ExtractionMode selects which discovery backend(s) produce elements.
type ExtractionMode int

const (
	ModeAuto       ExtractionMode = iota // Decide per request from playback state and vision health
	ModeXMLOnly                          // Accessibility tree only
	ModeVisualOnly                       // Vision service only
	ModeHybrid                           // Both, visual elements first
)

// String returns the wire name of the mode.
func (m ExtractionMode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeXMLOnly:
		return "xml_only"
	case ModeVisualOnly:
		return "visual_only"
	case ModeHybrid:
		return "hybrid"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m ExtractionMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *ExtractionMode) UnmarshalText(text []byte) error {
	parsed, err := ParseExtractionMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseExtractionMode parses a mode name. Accepts the wire names plus the
// short aliases "xml" and "visual". Empty input means auto.
func ParseExtractionMode(s string) (ExtractionMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "auto":
		return ModeAuto, nil
	case "xml_only", "xml":
		return ModeXMLOnly, nil
	case "visual_only", "visual":
		return ModeVisualOnly, nil
	case "hybrid":
		return ModeHybrid, nil
	default:
		return ModeAuto, fmt.Errorf("unknown extraction mode %q", s)
	}
}

// PlaybackState is the heuristic media-playback classification of the device.
type PlaybackState int

const (
	PlaybackUnknown PlaybackState = iota
	PlaybackPlaying
	PlaybackStopped
)

// String returns the wire name of the state.
func (s PlaybackState) String() string {
	switch s {
	case PlaybackPlaying:
		return "playing"
	case PlaybackStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s PlaybackState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsPlaying reports whether the state counts as playing. Unknown does not.
func (s PlaybackState) IsPlaying() bool {
	return s == PlaybackPlaying
}

// ElementType identifies which backend produced an element.
type ElementType string

// ElementType values
const (
	ElementXML    ElementType = "xml"
	ElementVisual ElementType = "visual"
)

// Element sources
const (
	SourceXMLExtractor = "xml_extractor"
	SourceOmniparser   = "omniparser"
)

// Outcome classifies how an extraction or scheduling step ended.
// Fallback paths return OutcomeDegraded instead of an error.
type Outcome int

const (
	OutcomeSuccess  Outcome = iota // Requested backend produced the batch
	OutcomeDegraded                // A fallback backend produced the batch
	OutcomeFailed                  // No backend produced elements
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeDegraded:
		return "degraded"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryLookup                          // Element not found in the current batch
	ErrCategoryTimeout                         // Operation timed out
	ErrCategoryConnection                      // Device/server connection lost
	ErrCategoryVision                          // Vision service unavailable or returned garbage
	ErrCategoryExtraction                      // Hierarchy could not be parsed
	ErrCategoryDispatch                        // Tap rejected by device
	ErrCategoryConfig                          // Invalid configuration, missing required field
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryLookup:
		return "lookup"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryVision:
		return "vision"
	case ErrCategoryExtraction:
		return "extraction"
	case ErrCategoryDispatch:
		return "dispatch"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}

// IsTransient returns true for categories that a fallback backend may recover from.
func (c ErrorCategory) IsTransient() bool {
	switch c {
	case ErrCategoryTimeout, ErrCategoryConnection, ErrCategoryVision:
		return true
	default:
		return false
	}
}
