package core

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestComputeStatistics(t *testing.T) {
	elements := []Element{
		{Type: ElementVisual, Clickable: true, Text: "Play"},
		{Type: ElementXML, Clickable: true},
		{Type: ElementXML, Text: "Title"},
		{Type: ElementXML, Text: "   "},
	}

	got := ComputeStatistics(elements)
	want := Statistics{XMLElements: 3, VisualElements: 1, ClickableElements: 2, TextElements: 2}
	if got != want {
		t.Errorf("ComputeStatistics() = %+v, want %+v", got, want)
	}
}

func TestFilterByPackage(t *testing.T) {
	elements := []Element{
		{UUID: "a", Package: "com.example.player"},
		{UUID: "b", Package: "com.android.systemui"},
		{UUID: "c", Package: ""},
	}

	if got := FilterByPackage(elements, ""); len(got) != 3 {
		t.Errorf("empty filter kept %d, want 3", len(got))
	}
	got := FilterByPackage(elements, "example")
	if len(got) != 1 || got[0].UUID != "a" {
		t.Errorf("FilterByPackage() = %+v", got)
	}
}

func TestNewSnapshot_JSONShape(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC)
	snap := NewSnapshot("batch-1", at, ModeXMLOnly, ScreenSize{Width: 1080, Height: 1920},
		PlaybackStopped, OutcomeSuccess, nil, nil)

	if snap.TotalCount != 0 {
		t.Errorf("TotalCount = %d, want 0", snap.TotalCount)
	}
	if snap.ExtractionTimestamp != "2026-03-01 12:30:45" {
		t.Errorf("ExtractionTimestamp = %q", snap.ExtractionTimestamp)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(data)
	for _, want := range []string{
		`"total_count":0`,
		`"extraction_mode":"xml_only"`,
		`"screen_size":[1080,1920]`,
		`"playback_state":"stopped"`,
		`"outcome":"success"`,
		`"elements":[]`,
		`"statistics":{"xml_elements":0,"visual_elements":0,"clickable_elements":0,"text_elements":0}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("snapshot JSON missing %s\n%s", want, body)
		}
	}
	if strings.Contains(body, "warnings") {
		t.Error("empty warnings should be omitted")
	}
}
