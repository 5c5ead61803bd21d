package scheduler

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/interact"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

// TapReport describes one tap request.
type TapReport struct {
	ID             string              `json:"id"`
	Success        bool                `json:"success"`
	Action         string              `json:"action"`
	Target         string              `json:"target"`
	Element        *core.Element       `json:"element,omitempty"`
	Point          *interact.Point     `json:"point,omitempty"`
	BiasApplied    bool                `json:"bias_applied"`
	ExtractionMode core.ExtractionMode `json:"extraction_mode"`
	Error          string              `json:"error,omitempty"`
	Timestamp      time.Time           `json:"timestamp"`
}

// Snapshot extracts elements and wraps them in the output document. A
// non-empty packageFilter keeps only elements whose package contains it.
func (s *Scheduler) Snapshot(ctx context.Context, mode core.ExtractionMode, packageFilter string) *core.Snapshot {
	res := s.GetElements(ctx, mode)
	playback := res.Playback
	if res.Requested != core.ModeAuto {
		playback = s.playback.Detect(ctx)
	}

	screen, err := s.bridge.ScreenSize(ctx)
	if err != nil {
		res.warn("screen size unavailable: %v", err)
	}

	elements := core.FilterByPackage(res.Elements, packageFilter)
	return core.NewSnapshot(uuid.NewString(), s.now(), res.Mode, screen, playback, res.Outcome, elements, res.Warnings)
}

// FindByText returns elements whose text or name matches text, ignoring
// case. With partial set a substring match is enough.
func (s *Scheduler) FindByText(ctx context.Context, text string, partial bool, mode core.ExtractionMode) []core.Element {
	needle := strings.ToLower(text)
	return lo.Filter(s.GetElements(ctx, mode).Elements, func(e core.Element, _ int) bool {
		t, n := strings.ToLower(e.Text), strings.ToLower(e.Name)
		if partial {
			return strings.Contains(t, needle) || strings.Contains(n, needle)
		}
		return t == needle || n == needle
	})
}

// FindByResourceID returns elements whose resource id contains id.
func (s *Scheduler) FindByResourceID(ctx context.Context, id string, mode core.ExtractionMode) []core.Element {
	return lo.Filter(s.GetElements(ctx, mode).Elements, func(e core.Element, _ int) bool {
		return strings.Contains(e.ResourceID, id)
	})
}

// FindClickable returns the clickable elements.
func (s *Scheduler) FindClickable(ctx context.Context, mode core.ExtractionMode) []core.Element {
	return lo.Filter(s.GetElements(ctx, mode).Elements, func(e core.Element, _ int) bool {
		return e.Clickable
	})
}

// FindByUUID returns the element with the given uuid from the current batch.
func (s *Scheduler) FindByUUID(ctx context.Context, id string, mode core.ExtractionMode) (core.Element, bool) {
	return lo.Find(s.GetElements(ctx, mode).Elements, func(e core.Element) bool {
		return e.UUID == id
	})
}

// TapByText taps the first clickable element matching text, or the first
// match when none is clickable. Matching is partial and case-insensitive.
func (s *Scheduler) TapByText(ctx context.Context, text string, bias bool) (TapReport, error) {
	mode := s.DefaultMode()
	report := s.newReport("text:"+text, bias, mode)

	matches := s.FindByText(ctx, text, true, mode)
	if len(matches) == 0 {
		return s.finish(report, core.ErrElementNotFound.WithMessage("no element with text "+text))
	}
	target, ok := lo.Find(matches, func(e core.Element) bool { return e.Clickable })
	if !ok {
		target = matches[0]
	}
	return s.tap(ctx, report, target)
}

// TapByUUID taps the element with the given uuid in the current batch.
func (s *Scheduler) TapByUUID(ctx context.Context, id string, bias bool) (TapReport, error) {
	mode := s.DefaultMode()
	report := s.newReport("uuid:"+id, bias, mode)

	target, ok := s.FindByUUID(ctx, id, mode)
	if !ok {
		return s.finish(report, core.ErrElementNotFound.WithMessage("no element with uuid "+id))
	}
	return s.tap(ctx, report, target)
}

func (s *Scheduler) newReport(target string, bias bool, mode core.ExtractionMode) TapReport {
	return TapReport{
		ID:             uuid.NewString(),
		Action:         "tap",
		Target:         target,
		BiasApplied:    bias,
		ExtractionMode: mode,
		Timestamp:      s.now(),
	}
}

func (s *Scheduler) tap(ctx context.Context, report TapReport, el core.Element) (TapReport, error) {
	report.Element = &el

	screen, err := s.bridge.ScreenSize(ctx)
	if err != nil {
		return s.finish(report, core.ErrTapRejected.WithCause(err))
	}
	p, err := s.dispatcher.TapElement(ctx, el, screen, report.BiasApplied)
	if err != nil {
		return s.finish(report, err)
	}
	report.Point = &p
	report.Success = true

	// The screen has changed, so cached batches are stale.
	s.Invalidate()
	logger.Info("scheduler: tapped %s (%s) at (%d,%d)", el.UUID, report.Target, p.X, p.Y)
	return report, nil
}

func (s *Scheduler) finish(report TapReport, err error) (TapReport, error) {
	report.Error = err.Error()
	logger.Warn("scheduler: tap %s failed: %v", report.Target, err)
	return report, err
}
