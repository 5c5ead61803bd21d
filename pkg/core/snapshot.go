package core

import (
	"strings"
	"time"

	"github.com/samber/lo"
)

// TimestampLayout is the extraction_timestamp format of a Snapshot.
const TimestampLayout = "2006-01-02 15:04:05"

// Statistics summarizes a batch by backend and content.
type Statistics struct {
	XMLElements       int `json:"xml_elements"`
	VisualElements    int `json:"visual_elements"`
	ClickableElements int `json:"clickable_elements"`
	TextElements      int `json:"text_elements"`
}

// Snapshot is the document handed to downstream consumers. It is always
// well formed, even when no backend produced elements.
type Snapshot struct {
	BatchID             string         `json:"batch_id"`
	TotalCount          int            `json:"total_count"`
	ExtractionTimestamp string         `json:"extraction_timestamp"`
	ExtractionMode      ExtractionMode `json:"extraction_mode"`
	ScreenSize          ScreenSize     `json:"screen_size"`
	PlaybackState       PlaybackState  `json:"playback_state"`
	Outcome             Outcome        `json:"outcome"`
	Elements            []Element      `json:"elements"`
	Statistics          Statistics     `json:"statistics"`
	Warnings            []string       `json:"warnings,omitempty"`
}

// ComputeStatistics counts elements per backend, clickable and with text.
func ComputeStatistics(elements []Element) Statistics {
	return Statistics{
		XMLElements:       lo.CountBy(elements, func(e Element) bool { return e.Type == ElementXML }),
		VisualElements:    lo.CountBy(elements, func(e Element) bool { return e.Type == ElementVisual }),
		ClickableElements: lo.CountBy(elements, func(e Element) bool { return e.Clickable }),
		TextElements:      lo.CountBy(elements, Element.HasText),
	}
}

// FilterByPackage keeps elements whose package contains pkg. An empty pkg
// keeps everything. The input slice is not modified.
func FilterByPackage(elements []Element, pkg string) []Element {
	if pkg == "" {
		return elements
	}
	return lo.Filter(elements, func(e Element, _ int) bool {
		return strings.Contains(e.Package, pkg)
	})
}

// NewSnapshot assembles a snapshot from a batch. A nil batch is encoded as an
// empty list.
func NewSnapshot(batchID string, at time.Time, mode ExtractionMode, screen ScreenSize,
	playback PlaybackState, outcome Outcome, elements []Element, warnings []string) *Snapshot {
	if elements == nil {
		elements = []Element{}
	}
	return &Snapshot{
		BatchID:             batchID,
		TotalCount:          len(elements),
		ExtractionTimestamp: at.Format(TimestampLayout),
		ExtractionMode:      mode,
		ScreenSize:          screen,
		PlaybackState:       playback,
		Outcome:             outcome,
		Elements:            elements,
		Statistics:          ComputeStatistics(elements),
		Warnings:            warnings,
	}
}
