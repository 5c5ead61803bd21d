package extract

import (
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

// XML extracts elements from the accessibility hierarchy.
type XML struct{}

// NewXML creates an XML extractor.
func NewXML() *XML {
	return &XML{}
}

// Kind returns core.ElementXML.
func (x *XML) Kind() core.ElementType { return core.ElementXML }

func (x *XML) sealed() {}

// Extract dumps the hierarchy and parses it against the current screen size.
func (x *XML) Extract(ctx context.Context, src Source) ([]core.Element, error) {
	screen, err := src.ScreenSize(ctx)
	if err != nil {
		return nil, core.ErrExtractionFailed.WithCause(fmt.Errorf("screen size: %w", err))
	}
	dump, err := src.DumpHierarchy(ctx)
	if err != nil {
		return nil, core.ErrExtractionFailed.WithCause(fmt.Errorf("dump hierarchy: %w", err))
	}
	elements, err := ParseHierarchy(dump, screen.Width, screen.Height)
	if err != nil {
		return elements, err
	}
	logger.Debug("xml extractor: %d elements", len(elements))
	return elements, nil
}

// ParseHierarchy converts a uiautomator hierarchy dump into elements in
// document order. The <hierarchy> wrapper is skipped. Malformed bounds
// become [0,0,0,0]; a document that is not well-formed XML yields an empty
// list and an error matching core.ErrMalformedHierarchy.
//
// Both dump formats are accepted: <node class="..."> and Appium-style tags
// named after the class.
func ParseHierarchy(xmlDump string, screenW, screenH int) ([]core.Element, error) {
	p := &hierarchyParser{
		dec:    xml.NewDecoder(strings.NewReader(xmlDump)),
		screen: core.ScreenSize{Width: screenW, Height: screenH},
	}

	sawRoot := false
	for {
		token, err := p.dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return []core.Element{}, core.ErrMalformedHierarchy.WithCause(err)
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true
		if err := p.node(start, nil); err != nil {
			return []core.Element{}, core.ErrMalformedHierarchy.WithCause(err)
		}
	}

	if !sawRoot {
		return []core.Element{}, core.ErrMalformedHierarchy.WithCause(errors.New("no root element"))
	}
	if p.elements == nil {
		p.elements = []core.Element{}
	}
	return p.elements, nil
}

type hierarchyParser struct {
	dec      *xml.Decoder
	screen   core.ScreenSize
	elements []core.Element
}

// node consumes start and everything up to its end tag.
func (p *hierarchyParser) node(start xml.StartElement, path []int) error {
	if start.Name.Local == "hierarchy" {
		_, err := p.children(nil)
		return err
	}

	idx := len(p.elements)
	p.elements = append(p.elements, p.element(start, idx, path))

	n, err := p.children(path)
	if err != nil {
		return err
	}
	p.elements[idx].Metadata["children_count"] = n
	return nil
}

// children parses child nodes until the parent's end tag and returns how many
// there were.
func (p *hierarchyParser) children(path []int) (int, error) {
	n := 0
	for {
		token, err := p.dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return n, io.ErrUnexpectedEOF
			}
			return n, err
		}
		switch t := token.(type) {
		case xml.StartElement:
			childPath := append(append(make([]int, 0, len(path)+1), path...), n)
			if err := p.node(t, childPath); err != nil {
				return n, err
			}
			n++
		case xml.EndElement:
			return n, nil
		}
	}
}

func (p *hierarchyParser) element(start xml.StartElement, idx int, path []int) core.Element {
	attrs := make(map[string]string, len(start.Attr))
	for _, a := range start.Attr {
		attrs[a.Name.Local] = a.Value
	}

	className := attrs["class"]
	if className == "" && start.Name.Local != "node" {
		className = start.Name.Local
	}
	text := strings.TrimSpace(attrs["text"])
	resourceID := attrs["resource-id"]
	rawBounds, ok := attrs["bounds"]
	if !ok {
		rawBounds = "[0,0][0,0]"
	}

	bounds := parseBounds(rawBounds).Normalize(p.screen)
	cx, cy := bounds.Center()

	name := resourceID
	if name == "" {
		name = text
	}
	if name == "" {
		name = className
	}

	return core.Element{
		UUID:        "xml_" + strconv.Itoa(idx),
		Type:        core.ElementXML,
		Name:        name,
		Text:        text,
		Package:     attrs["package"],
		ResourceID:  resourceID,
		ContentDesc: strings.TrimSpace(attrs["content-desc"]),
		ClassName:   className,
		Clickable:   isTrue(attrs["clickable"]),
		Bounds:      bounds,
		CenterX:     cx,
		CenterY:     cy,
		Confidence:  1.0,
		Source:      core.SourceXMLExtractor,
		Metadata: map[string]any{
			"path":           formatPath(path),
			"raw_bounds":     rawBounds,
			"enabled":        isTrue(attrs["enabled"]),
			"focusable":      isTrue(attrs["focusable"]),
			"scrollable":     isTrue(attrs["scrollable"]),
			"children_count": 0,
		},
	}
}

// parseBounds parses "[x1,y1][x2,y2]". Anything else yields zero bounds.
func parseBounds(s string) core.Bounds {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return core.Bounds{}
	}
	s = strings.ReplaceAll(s, "][", ",")
	s = strings.Trim(s, "[]")
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return core.Bounds{}
	}

	var v [4]int
	for i, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return core.Bounds{}
		}
		v[i] = n
	}

	return core.Bounds{
		X:      v[0],
		Y:      v[1],
		Width:  v[2] - v[0],
		Height: v[3] - v[1],
	}
}

func formatPath(path []int) string {
	if len(path) == 0 {
		return "root"
	}
	parts := make([]string, len(path))
	for i, n := range path {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, "/")
}

func isTrue(s string) bool {
	return strings.EqualFold(s, "true")
}
