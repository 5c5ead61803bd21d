package omniparser

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devicelab-dev/element-scheduler/pkg/core"
)

func TestProbe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/probe/", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"message":"Omniparser API ready"}`))
	}))
	defer server.Close()

	c := New(server.URL+"/", Options{})
	assert.NoError(t, c.Probe(context.Background()))
	assert.Equal(t, server.URL, c.BaseURL())
}

func TestProbe_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	err := New(server.URL, Options{}).Probe(context.Background())
	assert.ErrorIs(t, err, core.ErrVisionUnavailable)
}

func TestProbe_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	err := New(url, Options{HealthTimeout: time.Second}).Probe(context.Background())
	assert.ErrorIs(t, err, core.ErrVisionUnavailable)
	assert.True(t, core.CategoryOf(err).IsTransient())
}

func TestParse(t *testing.T) {
	png := []byte("\x89PNGfake")
	paddle := true
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/parse/", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, base64.StdEncoding.EncodeToString(png), req["base64_image"])
		assert.Equal(t, true, req["use_paddleocr"])

		w.Write([]byte(`{
			"parsed_content_list": [
				{"bbox": [0.1, 0.2, 0.3, 0.4], "content": "Play", "type": "icon", "interactivity": true, "uuid": "abc"},
				{"bbox": [0, 0, 1, 1], "content": "Background", "type": "text"}
			],
			"latency": 1.5
		}`))
	}))
	defer server.Close()

	c := New(server.URL, Options{UsePaddleOCR: &paddle})
	res, err := c.Parse(context.Background(), png)
	require.NoError(t, err)
	require.Len(t, res.Detections, 2)
	assert.Equal(t, 1500*time.Millisecond, res.Latency)

	first := res.Detections[0]
	assert.Equal(t, []float64{0.1, 0.2, 0.3, 0.4}, first.BBox)
	assert.Equal(t, "Play", first.Content)
	assert.Equal(t, "icon", first.Type)
	assert.Equal(t, "abc", first.UUID)
	require.NotNil(t, first.Interactivity)
	assert.True(t, *first.Interactivity)

	second := res.Detections[1]
	assert.Equal(t, []float64{0, 0, 1, 1}, second.BBox)
	assert.Nil(t, second.Interactivity)
	assert.Empty(t, second.UUID)
}

func TestParse_OmitsPaddleOCRByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_, present := req["use_paddleocr"]
		assert.False(t, present)
		w.Write([]byte(`{"parsed_content_list": []}`))
	}))
	defer server.Close()

	res, err := New(server.URL, Options{}).Parse(context.Background(), []byte("png"))
	require.NoError(t, err)
	assert.Empty(t, res.Detections)
}

func TestParse_EmptyScreenshot(t *testing.T) {
	_, err := New("http://127.0.0.1:1", Options{}).Parse(context.Background(), nil)
	assert.ErrorIs(t, err, core.ErrVisionParse)
}

func TestParse_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	}))
	defer server.Close()

	_, err := New(server.URL, Options{}).Parse(context.Background(), []byte("png"))
	assert.ErrorIs(t, err, core.ErrVisionUnavailable)
}

func TestParse_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	_, err := New(server.URL, Options{ParseTimeout: 50 * time.Millisecond}).Parse(context.Background(), []byte("png"))
	assert.ErrorIs(t, err, core.ErrTimeout)
}

func TestDecodeParseResponse(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr bool
		check   func(t *testing.T, r *ParseResult)
	}{
		{
			name:    "invalid json",
			body:    `{not json`,
			wantErr: true,
		},
		{
			name:    "missing list",
			body:    `{"latency": 1}`,
			wantErr: true,
		},
		{
			name: "integer bbox",
			body: `{"parsed_content_list": [{"bbox": [0, 1, 1, 1]}]}`,
			check: func(t *testing.T, r *ParseResult) {
				assert.Equal(t, []float64{0, 1, 1, 1}, r.Detections[0].BBox)
			},
		},
		{
			name: "short bbox kept for caller to skip",
			body: `{"parsed_content_list": [{"bbox": [0.1, 0.2], "content": "x"}]}`,
			check: func(t *testing.T, r *ParseResult) {
				assert.Len(t, r.Detections[0].BBox, 2)
			},
		},
		{
			name: "null interactivity and confidence",
			body: `{"parsed_content_list": [{"bbox": [0,0,1,1], "interactivity": null, "confidence": 0.42}]}`,
			check: func(t *testing.T, r *ParseResult) {
				assert.Nil(t, r.Detections[0].Interactivity)
				require.NotNil(t, r.Detections[0].Confidence)
				assert.InDelta(t, 0.42, *r.Detections[0].Confidence, 1e-9)
			},
		},
		{
			name: "no latency",
			body: `{"parsed_content_list": []}`,
			check: func(t *testing.T, r *ParseResult) {
				assert.Zero(t, r.Latency)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := DecodeParseResponse([]byte(tt.body))
			if tt.wantErr {
				assert.ErrorIs(t, err, core.ErrVisionParse)
				return
			}
			require.NoError(t, err)
			tt.check(t, r)
		})
	}
}
