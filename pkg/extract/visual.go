package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
	"github.com/devicelab-dev/element-scheduler/pkg/omniparser"
)

// DefaultVisualTTL is how long a vision result is reused.
const DefaultVisualTTL = 5 * time.Second

const defaultVisualClass = "visual_element"

// VisionService is the part of omniparser.Client the extractor uses.
type VisionService interface {
	Probe(ctx context.Context) error
	Parse(ctx context.Context, png []byte) (*omniparser.ParseResult, error)
}

var _ VisionService = (*omniparser.Client)(nil)

// VisualOptions configures a Visual extractor.
type VisualOptions struct {
	TTL time.Duration    // result reuse window, DefaultVisualTTL when zero
	Now func() time.Time // clock, time.Now when nil
}

// Visual extracts elements by sending screenshots to the vision service.
// The most recent result is reused for TTL, and concurrent extractions of
// the same screen share one remote call.
type Visual struct {
	service VisionService
	ttl     time.Duration
	now     func() time.Time
	group   singleflight.Group

	mu   sync.Mutex
	last *visualResult
}

type visualResult struct {
	key      string
	elements []core.Element
	at       time.Time
}

// NewVisual creates a visual extractor backed by service.
func NewVisual(service VisionService, opts VisualOptions) *Visual {
	if opts.TTL == 0 {
		opts.TTL = DefaultVisualTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Visual{service: service, ttl: opts.TTL, now: opts.Now}
}

// Kind returns core.ElementVisual.
func (v *Visual) Kind() core.ElementType { return core.ElementVisual }

func (v *Visual) sealed() {}

// Healthy reports whether the vision service answers its probe.
func (v *Visual) Healthy(ctx context.Context) bool {
	if err := v.service.Probe(ctx); err != nil {
		logger.Warn("vision service health check failed: %v", err)
		return false
	}
	return true
}

// Extract returns the cached result if it is fresh, otherwise captures a
// screenshot and parses it.
func (v *Visual) Extract(ctx context.Context, src Source) ([]core.Element, error) {
	if cached, ok := v.fresh(""); ok {
		logger.Debug("visual extractor: reusing %d cached elements", len(cached))
		return cached, nil
	}

	res, err, shared := v.do(ctx, "screen", func(ctx context.Context) (interface{}, error) {
		screen, err := src.ScreenSize(ctx)
		if err != nil {
			return nil, core.ErrExtractionFailed.WithCause(fmt.Errorf("screen size: %w", err))
		}
		png, err := src.Screenshot(ctx)
		if err != nil {
			return nil, core.ErrExtractionFailed.WithCause(fmt.Errorf("screenshot: %w", err))
		}
		return v.FromScreenshot(ctx, png, screen)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logger.Debug("visual extractor: shared in-flight extraction")
	}
	return res.([]core.Element), nil
}

// FromScreenshot parses png. A fresh result for the same image is returned
// without contacting the service.
func (v *Visual) FromScreenshot(ctx context.Context, png []byte, screen core.ScreenSize) ([]core.Element, error) {
	sum := sha256.Sum256(png)
	key := hex.EncodeToString(sum[:])
	if cached, ok := v.fresh(key); ok {
		return cached, nil
	}

	res, err, _ := v.do(ctx, key, func(ctx context.Context) (interface{}, error) {
		parsed, err := v.service.Parse(ctx, png)
		if err != nil {
			return nil, err
		}
		elements := ToElements(parsed.Detections, screen)
		logger.Info("visual extractor: %d elements from %d detections (service latency %v)",
			len(elements), len(parsed.Detections), parsed.Latency)

		v.mu.Lock()
		v.last = &visualResult{key: key, elements: elements, at: v.now()}
		v.mu.Unlock()
		return elements, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]core.Element), nil
}

// do runs fn once per key for all concurrent callers. The flight runs on a
// context detached from any single caller's cancellation (the service client
// applies its own timeouts), and each caller stops waiting when its own ctx
// is done.
func (v *Visual) do(ctx context.Context, key string, fn func(context.Context) (interface{}, error)) (interface{}, error, bool) {
	flightCtx := context.WithoutCancel(ctx)
	ch := v.group.DoChan(key, func() (interface{}, error) {
		return fn(flightCtx)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err(), false
	case r := <-ch:
		return r.Val, r.Err, r.Shared
	}
}

// Invalidate drops the cached result.
func (v *Visual) Invalidate() {
	v.mu.Lock()
	v.last = nil
	v.mu.Unlock()
}

// fresh returns the last result if it is within TTL and, when key is not
// empty, was computed from the same image.
func (v *Visual) fresh(key string) ([]core.Element, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.last == nil || v.ttl < 0 {
		return nil, false
	}
	if key != "" && v.last.key != key {
		return nil, false
	}
	if v.now().Sub(v.last.at) >= v.ttl {
		return nil, false
	}
	return v.last.elements, true
}

// ToElements maps vision detections to elements. Detections with fewer than
// four bbox values are dropped.
func ToElements(detections []omniparser.Detection, screen core.ScreenSize) []core.Element {
	elements := make([]core.Element, 0, len(detections))
	seen := make(map[string]bool, len(detections))

	for i, d := range detections {
		if len(d.BBox) < 4 {
			logger.Debug("visual extractor: skipping detection %d with %d bbox values", i, len(d.BBox))
			continue
		}

		uuid := d.UUID
		if uuid == "" || seen[uuid] {
			uuid = "visual_" + strconv.Itoa(i)
			for n := 1; seen[uuid]; n++ {
				uuid = "visual_" + strconv.Itoa(i) + "_" + strconv.Itoa(n)
			}
		}
		seen[uuid] = true

		className := d.Type
		if className == "" {
			className = defaultVisualClass
		}
		clickable := false
		if d.Interactivity != nil {
			clickable = *d.Interactivity
		}
		confidence := 1.0
		if d.Confidence != nil && *d.Confidence >= 0 && *d.Confidence <= 1 {
			confidence = *d.Confidence
		}

		bounds := core.NewNormBounds(d.BBox[0], d.BBox[1], d.BBox[2], d.BBox[3])
		cx, cy := bounds.Center()

		metadata := map[string]any{
			"omniparser_type": d.Type,
			"raw_bbox":        append([]float64(nil), d.BBox...),
			"screen_size":     map[string]int{"width": screen.Width, "height": screen.Height},
		}
		if d.Source != "" {
			metadata["omniparser_source"] = d.Source
		}

		elements = append(elements, core.Element{
			UUID:        uuid,
			Type:        core.ElementVisual,
			Name:        d.Content,
			Text:        d.Content,
			ResourceID:  "",
			ContentDesc: d.Content,
			ClassName:   className,
			Clickable:   clickable,
			Bounds:      bounds,
			CenterX:     cx,
			CenterY:     cy,
			Confidence:  confidence,
			Source:      core.SourceOmniparser,
			Metadata:    metadata,
		})
	}
	return elements
}
