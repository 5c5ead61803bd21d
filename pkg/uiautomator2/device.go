package uiautomator2

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
)

// Source returns the page source XML of the current screen.
func (c *Client) Source(ctx context.Context) (string, error) {
	doc, err := c.sessionCall(ctx, http.MethodGet, "/source", nil)
	if err != nil {
		return "", err
	}
	value := doc.Get("value")
	if value.Type != gjson.String {
		return "", fmt.Errorf("unexpected source response")
	}
	return value.String(), nil
}

// Screenshot captures the screen as PNG.
func (c *Client) Screenshot(ctx context.Context) ([]byte, error) {
	doc, err := c.sessionCall(ctx, http.MethodGet, "/screenshot", nil)
	if err != nil {
		return nil, err
	}
	value := doc.Get("value")
	if value.Type != gjson.String {
		return nil, fmt.Errorf("unexpected screenshot response")
	}
	png, err := base64.StdEncoding.DecodeString(value.String())
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	return png, nil
}

// Click taps at pixel coordinates.
func (c *Client) Click(ctx context.Context, x, y int) error {
	req := ClickRequest{Offset: &PointModel{X: x, Y: y}}
	_, err := c.sessionCall(ctx, http.MethodPost, "/appium/gestures/click", req)
	return err
}

// WindowRect returns the window rectangle in pixels.
func (c *Client) WindowRect(ctx context.Context) (WindowRect, error) {
	doc, err := c.sessionCall(ctx, http.MethodGet, "/window/rect", nil)
	if err != nil {
		return WindowRect{}, err
	}
	v := doc.Get("value")
	return WindowRect{
		X:      int(v.Get("x").Int()),
		Y:      int(v.Get("y").Int()),
		Width:  int(v.Get("width").Int()),
		Height: int(v.Get("height").Int()),
	}, nil
}
