package core

import (
	"encoding/json"
	"testing"
)

func TestExtractionMode_String(t *testing.T) {
	tests := []struct {
		mode     ExtractionMode
		expected string
	}{
		{ModeAuto, "auto"},
		{ModeXMLOnly, "xml_only"},
		{ModeVisualOnly, "visual_only"},
		{ModeHybrid, "hybrid"},
		{ExtractionMode(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.mode.String(); got != tt.expected {
			t.Errorf("ExtractionMode(%d).String() = %q, want %q", tt.mode, got, tt.expected)
		}
	}
}

func TestParseExtractionMode(t *testing.T) {
	tests := []struct {
		input   string
		want    ExtractionMode
		wantErr bool
	}{
		{"", ModeAuto, false},
		{"auto", ModeAuto, false},
		{"XML_ONLY", ModeXMLOnly, false},
		{"xml", ModeXMLOnly, false},
		{" visual ", ModeVisualOnly, false},
		{"visual_only", ModeVisualOnly, false},
		{"hybrid", ModeHybrid, false},
		{"ocr", ModeAuto, true},
	}

	for _, tt := range tests {
		got, err := ParseExtractionMode(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseExtractionMode(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseExtractionMode(%q) = %s, want %s", tt.input, got, tt.want)
		}
	}
}

func TestExtractionMode_JSON(t *testing.T) {
	var v struct {
		Mode ExtractionMode `json:"mode"`
	}
	if err := json.Unmarshal([]byte(`{"mode":"hybrid"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v.Mode != ModeHybrid {
		t.Errorf("Mode = %s, want hybrid", v.Mode)
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"mode":"hybrid"}` {
		t.Errorf("marshal = %s", data)
	}
}

func TestPlaybackState(t *testing.T) {
	tests := []struct {
		state   PlaybackState
		name    string
		playing bool
	}{
		{PlaybackPlaying, "playing", true},
		{PlaybackStopped, "stopped", false},
		{PlaybackUnknown, "unknown", false},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.name {
			t.Errorf("String() = %q, want %q", got, tt.name)
		}
		if got := tt.state.IsPlaying(); got != tt.playing {
			t.Errorf("%s.IsPlaying() = %v, want %v", tt.name, got, tt.playing)
		}
	}
}

func TestOutcome_String(t *testing.T) {
	tests := []struct {
		outcome  Outcome
		expected string
	}{
		{OutcomeSuccess, "success"},
		{OutcomeDegraded, "degraded"},
		{OutcomeFailed, "failed"},
		{Outcome(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.outcome.String(); got != tt.expected {
			t.Errorf("Outcome(%d).String() = %q, want %q", tt.outcome, got, tt.expected)
		}
	}
}

func TestErrorCategory_String(t *testing.T) {
	tests := []struct {
		category ErrorCategory
		expected string
	}{
		{ErrCategoryNone, "none"},
		{ErrCategoryLookup, "lookup"},
		{ErrCategoryTimeout, "timeout"},
		{ErrCategoryConnection, "connection"},
		{ErrCategoryVision, "vision"},
		{ErrCategoryExtraction, "extraction"},
		{ErrCategoryDispatch, "dispatch"},
		{ErrCategoryConfig, "config"},
		{ErrorCategory(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.category.String(); got != tt.expected {
			t.Errorf("ErrorCategory(%d).String() = %q, want %q", tt.category, got, tt.expected)
		}
	}
}

func TestErrorCategory_IsTransient(t *testing.T) {
	transient := []ErrorCategory{ErrCategoryTimeout, ErrCategoryConnection, ErrCategoryVision}
	permanent := []ErrorCategory{ErrCategoryNone, ErrCategoryLookup, ErrCategoryExtraction, ErrCategoryDispatch, ErrCategoryConfig}

	for _, c := range transient {
		if !c.IsTransient() {
			t.Errorf("%s.IsTransient() = false, want true", c)
		}
	}
	for _, c := range permanent {
		if c.IsTransient() {
			t.Errorf("%s.IsTransient() = true, want false", c)
		}
	}
}
