// Package gemini provides the concrete agent integration: a websocket live
// transport for the streaming session and a genai-backed client for the data
// tools (market lookup with search grounding, crop diagnosis from a still).
package gemini

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/agrovoice/agrovoice/pkg/live"
)

// Client answers the session's data tools with one-shot model calls.
type Client struct {
	c     *genai.Client
	model string
}

// NewClient builds a data-tool client for the given API key. model is the
// non-live model used for tool answers.
func NewClient(apiKey, model string) (*Client, error) {
	tr := &http.Transport{
		Proxy:             http.ProxyFromEnvironment,
		TLSClientConfig:   &tls.Config{MinVersion: tls.VersionTLS12},
		ForceAttemptHTTP2: false,
		MaxIdleConns:      100,
		IdleConnTimeout:   90 * time.Second,
	}
	hc := &http.Client{Transport: tr, Timeout: 60 * time.Second}
	reqTimeout := 45 * time.Second
	cl, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     apiKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: hc,
		HTTPOptions: genai.HTTPOptions{
			APIVersion: "v1beta",
			Timeout:    &reqTimeout,
		},
	})
	if err != nil {
		return nil, err
	}
	return &Client{c: cl, model: model}, nil
}

func (g *Client) Close() error { return nil }

// MarketDataTool adapts MarketData to the session's tool contract.
func (g *Client) MarketDataTool() live.ToolFunc {
	return func(ctx context.Context, args map[string]any, snapshot []live.ContextEntry) (map[string]any, error) {
		return g.MarketData(ctx, args)
	}
}

// MarketData answers a market-price query using search grounding. The
// returned payload carries a short spoken-style summary plus the grounding
// sources.
func (g *Client) MarketData(ctx context.Context, args map[string]any) (map[string]any, error) {
	crop, _ := args["crop"].(string)
	market, _ := args["market"].(string)
	if strings.TrimSpace(crop) == "" {
		return nil, errors.New("marketData: crop is required")
	}

	prompt := fmt.Sprintf(
		"Find the current wholesale market price and recent trend for %s", crop)
	if strings.TrimSpace(market) != "" {
		prompt += " in " + market
	}
	prompt += ". Answer in 1-2 short sentences suitable for reading aloud to a farmer. Include the price per quintal if available."

	temp := float32(0.2)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
		Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
	}

	resp, err := g.callOnce(ctx, []*genai.Part{{Text: prompt}}, cfg)
	if err != nil {
		return nil, fmt.Errorf("market data: %w", err)
	}

	summary := strings.TrimSpace(resp.Text())
	if summary == "" {
		return nil, errors.New("market data: empty response")
	}

	out := map[string]any{
		"crop":    crop,
		"summary": summary,
	}
	if sources := groundingSources(resp); len(sources) > 0 {
		out["sources"] = sources
	}
	return out, nil
}

// Diagnose analyzes a crop photo and returns a structured diagnosis.
// Implements live.Diagnoser for the user-initiated capture path.
func (g *Client) Diagnose(ctx context.Context, image []byte, language string, snapshot []live.ContextEntry) (map[string]any, error) {
	if len(image) == 0 {
		return nil, errors.New("diagnose: empty image")
	}
	if language == "" {
		language = "en-US"
	}

	prompt := fmt.Sprintf(
		"You are an expert agronomist. Examine this crop photo for disease, pest damage, or nutrient deficiency. "+
			"Respond in the language with BCP-47 code %q. Keep treatment advice practical for a smallholder farmer.", language)

	parts := []*genai.Part{
		{Text: prompt},
		{InlineData: &genai.Blob{Data: image, MIMEType: "image/jpeg"}},
	}

	temp := float32(0.2)
	cfg := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"disease":   {Type: genai.TypeString},
				"severity":  {Type: genai.TypeString},
				"treatment": {Type: genai.TypeString},
				"summary":   {Type: genai.TypeString},
			},
			Required: []string{"disease", "summary"},
		},
		Temperature: &temp,
	}

	resp, err := g.callOnce(ctx, parts, cfg)
	if err != nil {
		return nil, fmt.Errorf("diagnose: %w", err)
	}

	diagnosis, ok := parseDiagnosis(resp)
	if !ok {
		return nil, errors.New("diagnose: empty response")
	}
	return diagnosis, nil
}

// callOnce runs one generation with bounded retries on transient transport
// failures.
func (g *Client) callOnce(ctx context.Context, parts []*genai.Part, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	var lastErr error
	for i := 0; i < 3; i++ {
		resp, err := g.c.Models.GenerateContent(ctx, g.model, []*genai.Content{{Parts: parts}}, cfg)
		if err != nil {
			lastErr = err
			if retriable(err) && ctx.Err() == nil {
				time.Sleep(time.Duration(300*(i+1)) * time.Millisecond)
				continue
			}
			return nil, err
		}
		return resp, nil
	}
	return nil, lastErr
}

// parseDiagnosis extracts the structured payload, accepting inline JSON
// data, JSON in a text part, or falling back to plain text.
func parseDiagnosis(resp *genai.GenerateContentResponse) (map[string]any, bool) {
	decode := func(raw []byte) (map[string]any, bool) {
		var out map[string]any
		if json.Unmarshal(raw, &out) == nil && len(out) > 0 {
			return out, true
		}
		return nil, false
	}

	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, p := range cand.Content.Parts {
			if p.InlineData != nil && p.InlineData.MIMEType == "application/json" {
				if out, ok := decode(p.InlineData.Data); ok {
					return out, true
				}
			}
			if p.Text != "" {
				if out, ok := decode([]byte(p.Text)); ok {
					return out, true
				}
			}
		}
	}

	if t := strings.TrimSpace(resp.Text()); t != "" {
		return map[string]any{"summary": t}, true
	}
	return nil, false
}

// groundingSources flattens search grounding into (uri, title) maps.
func groundingSources(resp *genai.GenerateContentResponse) []map[string]string {
	var out []map[string]string
	for _, cand := range resp.Candidates {
		if cand.GroundingMetadata == nil {
			continue
		}
		for _, chunk := range cand.GroundingMetadata.GroundingChunks {
			if chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			out = append(out, map[string]string{
				"uri":   chunk.Web.URI,
				"title": chunk.Web.Title,
			})
		}
	}
	return out
}

func retriable(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "unexpected EOF") ||
		strings.Contains(s, "timeout") ||
		strings.Contains(s, "RST_STREAM") ||
		strings.Contains(s, "connection reset") ||
		strings.Contains(s, "429") ||
		strings.Contains(s, "503")
}
