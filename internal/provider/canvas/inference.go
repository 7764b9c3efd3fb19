package canvas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"chat2edit/internal/logging"
)

// Detection is one region an inference model found: a cut-out image as a
// data URL, its placement on the background, and a confidence score.
type Detection struct {
	Src    string  `json:"src"`
	Left   float64 `json:"left"`
	Top    float64 `json:"top"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Score  float64 `json:"score"`
}

// Inference is the external model service behind the async functions.
type Inference interface {
	// Detect finds every region matching prompt.
	Detect(ctx context.Context, background *Image, prompt string) ([]Detection, error)
	// Segment cuts the object inside box out of the background.
	Segment(ctx context.Context, background *Image, box [4]int64) (Detection, error)
	// Inpaint fills the regions covered by masks and returns the new
	// background as a data URL.
	Inpaint(ctx context.Context, background *Image, masks []*Image) (string, error)
	// Generate repaints the regions covered by masks following prompt.
	Generate(ctx context.Context, background *Image, masks []*Image, prompt string) (string, error)
}

// HTTPInference talks JSON to the model service.
type HTTPInference struct {
	baseURL    string
	httpClient *http.Client
}

// NewHTTPInference creates a client for the service at baseURL.
func NewHTTPInference(baseURL string, timeout time.Duration, client *http.Client) *HTTPInference {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPInference{baseURL: strings.TrimRight(baseURL, "/"), httpClient: client}
}

type imageRef struct {
	Src     string `json:"src"`
	SrcType string `json:"src_type"`
}

func ref(img *Image) imageRef { return imageRef{Src: img.Src, SrcType: "data_url"} }

func masksOf(masks []*Image) []maskRef {
	out := make([]maskRef, len(masks))
	for i, m := range masks {
		out[i] = maskRef{Src: m.Src, Left: m.Left, Top: m.Top}
	}
	return out
}

type maskRef struct {
	Src  string  `json:"src"`
	Left float64 `json:"left"`
	Top  float64 `json:"top"`
}

// Detect calls the grounded segmentation endpoint.
func (c *HTTPInference) Detect(ctx context.Context, background *Image, prompt string) ([]Detection, error) {
	var resp struct {
		Objects []Detection `json:"objects"`
	}
	err := c.post(ctx, "/api/v1/predict/grounded-sam", map[string]any{
		"image":  ref(background),
		"prompt": prompt,
	}, &resp)
	if err != nil {
		return nil, fmt.Errorf("object detection: %w", err)
	}
	return resp.Objects, nil
}

// Segment calls the box-prompted segmentation endpoint.
func (c *HTTPInference) Segment(ctx context.Context, background *Image, box [4]int64) (Detection, error) {
	var resp Detection
	err := c.post(ctx, "/api/v1/predict/sam2", map[string]any{
		"image": ref(background),
		"box":   box,
	}, &resp)
	if err != nil {
		return Detection{}, fmt.Errorf("segmentation: %w", err)
	}
	return resp, nil
}

// Inpaint calls the inpainting endpoint.
func (c *HTTPInference) Inpaint(ctx context.Context, background *Image, masks []*Image) (string, error) {
	var resp struct {
		Src string `json:"src"`
	}
	err := c.post(ctx, "/api/v1/predict/lama", map[string]any{
		"image": ref(background),
		"masks": masksOf(masks),
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("inpainting: %w", err)
	}
	return resp.Src, nil
}

// Generate calls the prompt-guided inpainting endpoint.
func (c *HTTPInference) Generate(ctx context.Context, background *Image, masks []*Image, prompt string) (string, error) {
	var resp struct {
		Src string `json:"src"`
	}
	err := c.post(ctx, "/api/v1/predict/sd-inpaint", map[string]any{
		"image":  ref(background),
		"masks":  masksOf(masks),
		"prompt": prompt,
	}, &resp)
	if err != nil {
		return "", fmt.Errorf("generative inpainting: %w", err)
	}
	return resp.Src, nil
}

func (c *HTTPInference) post(ctx context.Context, path string, body, out any) error {
	start := time.Now()
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	logging.ProviderDebug("inference %s completed in %v", path, time.Since(start))
	return nil
}
