// Package httpengine talks to the renderer sidecar over the v1 HTTP contract.
package httpengine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	v1 "weaver/internal/contracts/renderer/v1"
	"weaver/internal/pkg/errors"
	"weaver/internal/ports"
)

const maxEventLine = 1 << 20

type Client struct {
	baseURL string
	client  *http.Client
}

// New returns a client for the sidecar at baseURL. Requests have no client
// timeout: renders stream for minutes and are bounded by their context.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{},
	}
}

func (c *Client) Bundle(ctx context.Context, entryPoint string) (string, error) {
	var out v1.BundleResponse
	if err := c.call(ctx, v1.PathBundle, v1.BundleRequest{EntryPoint: entryPoint}, &out); err != nil {
		return "", err
	}
	if out.ServeURL == "" {
		return "", errors.New(errors.CodeInternal, "renderer returned an empty serve url")
	}
	return out.ServeURL, nil
}

func (c *Client) SelectComposition(ctx context.Context, in ports.SelectCompositionInput) (ports.Composition, error) {
	var out v1.Composition
	req := v1.SelectCompositionRequest{ServeURL: in.ServeURL, ID: in.CompositionID, InputProps: in.InputProps}
	if err := c.call(ctx, v1.PathSelectComposition, req, &out); err != nil {
		return ports.Composition{}, err
	}
	return ports.Composition{
		ID:               out.ID,
		DurationInFrames: out.DurationInFrames,
		Width:            out.Width,
		Height:           out.Height,
		FPS:              out.FPS,
	}, nil
}

// Render posts the job and consumes the event stream until a done or error
// event. Progress events are forwarded to in.OnProgress.
func (c *Client) Render(ctx context.Context, in ports.RenderInput) error {
	req := v1.RenderRequest{
		ServeURL: in.ServeURL,
		Composition: v1.Composition{
			ID:               in.Composition.ID,
			DurationInFrames: in.Composition.DurationInFrames,
			Width:            in.Composition.Width,
			Height:           in.Composition.Height,
			FPS:              in.Composition.FPS,
		},
		InputProps:            in.InputProps,
		OutputLocation:        in.OutputPath,
		Codec:                 in.Encoding.Codec,
		CRF:                   in.Encoding.CRF,
		ImageFormat:           in.Encoding.ImageFormat,
		ColorSpace:            in.Encoding.ColorSpace,
		X264Preset:            in.Encoding.X264Preset,
		JpegQuality:           in.Encoding.JpegQuality,
		TimeoutInMilliseconds: in.TimeoutMs,
	}

	res, err := c.post(ctx, v1.PathRender, req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	scanner := bufio.NewScanner(res.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLine)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev v1.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return errors.WrapWithCode(err, errors.CodeInternal, "httpengine.Render", "malformed render event")
		}
		switch ev.Type {
		case v1.EventProgress:
			if in.OnProgress != nil {
				in.OnProgress(ev.Progress)
			}
		case v1.EventDone:
			return nil
		case v1.EventError:
			return errors.New(errors.CodeInternal, "renderer: "+ev.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return errors.WrapWithCode(err, errors.CodeUnavailable, "httpengine.Render", "render stream interrupted")
	}
	return errors.New(errors.CodeInternal, "render stream ended without completion")
}

// Ping checks the sidecar health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+v1.PathHealth, nil)
	if err != nil {
		return err
	}
	res, err := c.client.Do(req)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "httpengine.Ping", "renderer unavailable")
	}
	defer res.Body.Close()
	_, _ = io.Copy(io.Discard, res.Body)
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return errors.Newf(errors.CodeUnavailable, "renderer health http %d", res.StatusCode)
	}
	return nil
}

func (c *Client) call(ctx context.Context, path string, in, out any) error {
	res, err := c.post(ctx, path, in)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.WrapWithCode(err, errors.CodeInternal, "httpengine"+path, "decode renderer response")
	}
	return nil
}

// post sends in as JSON and returns the response only when it is 2xx.
func (c *Client) post(ctx context.Context, path string, in any) (*http.Response, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return nil, errors.Wrap(err, "httpengine"+path, "encode renderer request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "httpengine"+path, "build renderer request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.WrapWithCode(err, errors.CodeUnavailable, "httpengine"+path, "renderer unavailable")
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		defer res.Body.Close()
		return nil, errors.New(errors.CodeInternal, fmt.Sprintf("renderer %s: %s", path, errorMessage(res)))
	}
	return res, nil
}

func errorMessage(res *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	var er v1.ErrorResponse
	if json.Unmarshal(raw, &er) == nil && er.Error != "" {
		return er.Error
	}
	if s := strings.TrimSpace(string(raw)); s != "" {
		return s
	}
	return fmt.Sprintf("http %d", res.StatusCode)
}
