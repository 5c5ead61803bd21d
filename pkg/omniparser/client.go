// Package omniparser is an HTTP client for the OmniParser vision service.
//
// The service exposes two endpoints:
//
//	GET  /probe/  health check
//	POST /parse/  {"base64_image": "...", "use_paddleocr": bool}
//	              -> {"parsed_content_list": [...], "latency": float}
//
// Responses are decoded leniently: bbox values may be ints or floats and
// every per-detection field except bbox is optional.
package omniparser

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
	"github.com/devicelab-dev/element-scheduler/pkg/logger"
)

// Default timeouts.
const (
	DefaultParseTimeout  = 90 * time.Second
	DefaultHealthTimeout = 10 * time.Second
)

// Detection is one parsed element from the vision service. BBox is
// normalized to [0,1] by the service.
type Detection struct {
	BBox          []float64
	Content       string
	Type          string
	Interactivity *bool
	UUID          string
	Source        string
	Confidence    *float64
}

// ParseResult is the decoded /parse/ response.
type ParseResult struct {
	Detections []Detection
	Latency    time.Duration
}

// Options configures a Client.
type Options struct {
	ParseTimeout  time.Duration
	HealthTimeout time.Duration
	UsePaddleOCR  *bool // nil omits the field
	HTTPClient    *http.Client
}

// Client talks to one vision service instance.
type Client struct {
	baseURL string
	http    *http.Client
	opts    Options
}

// New creates a client for the service at baseURL.
func New(baseURL string, opts Options) *Client {
	if opts.ParseTimeout <= 0 {
		opts.ParseTimeout = DefaultParseTimeout
	}
	if opts.HealthTimeout <= 0 {
		opts.HealthTimeout = DefaultHealthTimeout
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    hc,
		opts:    opts,
	}
}

// BaseURL returns the service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Probe checks that the service is up.
func (c *Client) Probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.opts.HealthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/probe/", nil)
	if err != nil {
		return core.ErrVisionUnavailable.WithCause(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return core.ErrVisionUnavailable.WithCause(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return core.ErrVisionUnavailable.WithCause(fmt.Errorf("probe status %d", resp.StatusCode))
	}
	return nil
}

type parseRequest struct {
	Base64Image  string `json:"base64_image"`
	UsePaddleOCR *bool  `json:"use_paddleocr,omitempty"`
}

// Parse sends a PNG screenshot to the service and decodes the detections.
func (c *Client) Parse(ctx context.Context, png []byte) (*ParseResult, error) {
	if len(png) == 0 {
		return nil, core.ErrVisionParse.WithMessage("empty screenshot")
	}

	body, err := json.Marshal(parseRequest{
		Base64Image:  base64.StdEncoding.EncodeToString(png),
		UsePaddleOCR: c.opts.UsePaddleOCR,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal parse request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ParseTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/parse/", bytes.NewReader(body))
	if err != nil {
		return nil, core.ErrVisionUnavailable.WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, core.ErrTimeout.WithCause(fmt.Errorf("vision parse: %w", err))
		}
		return nil, core.ErrVisionUnavailable.WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, core.ErrVisionUnavailable.WithCause(fmt.Errorf("read parse response: %w", err))
	}
	logger.Debug("omniparser /parse/ [%v] status=%d bytes=%d", time.Since(start), resp.StatusCode, len(data))

	if resp.StatusCode != http.StatusOK {
		return nil, core.ErrVisionUnavailable.WithCause(fmt.Errorf("parse status %d: %s", resp.StatusCode, truncate(string(data), 200)))
	}
	return DecodeParseResponse(data)
}

// DecodeParseResponse decodes a /parse/ response body.
func DecodeParseResponse(data []byte) (*ParseResult, error) {
	if !gjson.ValidBytes(data) {
		return nil, core.ErrVisionParse.WithCause(fmt.Errorf("invalid JSON (%d bytes)", len(data)))
	}
	root := gjson.ParseBytes(data)
	list := root.Get("parsed_content_list")
	if !list.IsArray() {
		return nil, core.ErrVisionParse.WithCause(fmt.Errorf("parsed_content_list missing"))
	}

	result := &ParseResult{}
	if lat := root.Get("latency"); lat.Exists() {
		result.Latency = time.Duration(lat.Float() * float64(time.Second))
	}

	list.ForEach(func(_, item gjson.Result) bool {
		result.Detections = append(result.Detections, decodeDetection(item))
		return true
	})
	return result, nil
}

func decodeDetection(item gjson.Result) Detection {
	d := Detection{
		Content: item.Get("content").String(),
		Type:    item.Get("type").String(),
		UUID:    item.Get("uuid").String(),
		Source:  item.Get("source").String(),
	}
	item.Get("bbox").ForEach(func(_, v gjson.Result) bool {
		if v.Type == gjson.Number {
			d.BBox = append(d.BBox, v.Float())
		}
		return true
	})
	if v := item.Get("interactivity"); v.Exists() && v.Type != gjson.Null {
		b := v.Bool()
		d.Interactivity = &b
	}
	if v := item.Get("confidence"); v.Type == gjson.Number {
		f := v.Float()
		d.Confidence = &f
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
