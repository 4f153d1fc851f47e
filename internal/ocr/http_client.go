package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/net/http2"

	"github.com/clickmediapropy/ggrevealer/internal/domain"
)

// HTTPClient is a Port implementation that POSTs a screenshot's bytes to a
// vision-OCR HTTP endpoint and decodes its JSON response. Its transport
// negotiates HTTP/2 via http2.ConfigureTransport — the same package the
// upstream proxy used for its MITM server, now serving outbound OCR calls.
type HTTPClient struct {
	endpointA string
	endpointB string
	client    *http.Client
}

// NewHTTPClient builds an HTTPClient posting to endpointA for OCR-A and
// endpointB for OCR-B.
func NewHTTPClient(endpointA, endpointB string) (*HTTPClient, error) {
	transport := &http.Transport{}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("configure http2 transport: %w", err)
	}
	return &HTTPClient{
		endpointA: endpointA,
		endpointB: endpointB,
		client:    &http.Client{Transport: transport},
	}, nil
}

type ocrImageRequest struct {
	ImageBase64 string `json:"image_base64"`
	MediaType   string `json:"media_type"`
}

type ocrAResponse struct {
	Found  bool   `json:"found"`
	HandID string `json:"hand_id"`
}

// OCRA implements Port.
func (c *HTTPClient) OCRA(ctx context.Context, screenshot domain.Screenshot) (domain.OCRAResult, error) {
	var parsed ocrAResponse
	if err := c.post(ctx, c.endpointA, screenshot, &parsed); err != nil {
		return domain.OCRAResult{}, err
	}
	return domain.OCRAResult{Found: parsed.Found, HandID: parsed.HandID}, nil
}

type ocrBResponse struct {
	Players    []domain.OCRPlayer `json:"players"`
	Hero       domain.OCRPlayer   `json:"hero"`
	BoardCards []domain.Card      `json:"board_cards"`
}

// OCRB implements Port.
func (c *HTTPClient) OCRB(ctx context.Context, screenshot domain.Screenshot) (domain.OCRBPayload, error) {
	var parsed ocrBResponse
	if err := c.post(ctx, c.endpointB, screenshot, &parsed); err != nil {
		return domain.OCRBPayload{}, err
	}
	return domain.OCRBPayload{Players: parsed.Players, Hero: parsed.Hero, BoardCards: parsed.BoardCards}, nil
}

// post sends one screenshot and decodes the JSON response into out,
// classifying failures as transient (network, 5xx) or permanent (4xx,
// malformed response) per the Port contract.
func (c *HTTPClient) post(ctx context.Context, endpoint string, screenshot domain.Screenshot, out any) error {
	reqBody, err := json.Marshal(ocrImageRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(screenshot.Content),
		MediaType:   mediaType(screenshot.Filename),
	})
	if err != nil {
		return Permanent(fmt.Errorf("encode ocr request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return Permanent(fmt.Errorf("build ocr request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("ocr transport: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Transient(fmt.Errorf("ocr read response: %w", err))
	}

	if resp.StatusCode >= 500 {
		return Transient(fmt.Errorf("ocr upstream %d: %s", resp.StatusCode, body))
	}
	if resp.StatusCode >= 400 {
		return Permanent(fmt.Errorf("ocr upstream %d: %s", resp.StatusCode, body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return Permanent(fmt.Errorf("ocr parse response: %w", err))
	}
	return nil
}

// mediaType derives a best-effort media type from a screenshot's filename
// extension; OCR providers accept this alongside the raw bytes.
func mediaType(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	default:
		return "application/octet-stream"
	}
}
