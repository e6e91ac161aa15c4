package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"photostudio/internal/domain"
	"photostudio/internal/infra"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// Options controls how the model client is configured.
type Options struct {
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Client talks to model providers in either the Gemini generateContent or the
// OpenAI chat/completions wire format. The provider passed on each call
// selects format, endpoint, model and credential.
type Client struct {
	httpClient *http.Client
	logger     *infra.Logger
}

// TextRequest asks a text model for a single completion.
type TextRequest struct {
	System      string
	Prompt      string
	JSON        bool
	Temperature float64
	RequestID   string
}

// TextResult is the completion text returned by the model.
type TextResult struct {
	Text  string
	Model string
}

// InputImage is a reference image sent alongside an image prompt. Label, when
// set, is sent as a text part right before the image.
type InputImage struct {
	Label    string
	MimeType string
	Data     []byte
}

// ImageRequest represents the information required to generate one image.
type ImageRequest struct {
	Prompt      string
	AspectRatio string
	Images      []InputImage
	RequestID   string
}

// ImageResult is the first image returned by the model.
type ImageResult struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
	Text     string
	Model    string
}

// NewClient constructs a client. Callers may provide a nil HTTP client; a
// default one with a conservative timeout is used.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 120 * time.Second}
	}

	var logger *infra.Logger
	if opts.Logger != nil {
		logger = opts.Logger
	} else {
		discard := zerolog.New(io.Discard)
		l := infra.Logger(discard)
		logger = &l
	}

	return &Client{httpClient: client, logger: logger}
}

// GenerateText runs a text completion against provider p.
func (c *Client) GenerateText(ctx context.Context, p domain.Provider, req TextRequest) (*TextResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.Usable(domain.CapabilityText) {
		return nil, fmt.Errorf("provider %s: %w", p.ID, domain.ErrProviderNotConfigured)
	}
	var (
		text string
		err  error
	)
	switch p.Format {
	case domain.ProviderFormatGemini:
		text, err = c.geminiText(ctx, p, req)
	case domain.ProviderFormatOpenAI:
		text, err = c.openAIText(ctx, p, req)
	default:
		return nil, fmt.Errorf("provider %s: unsupported format %q: %w", p.ID, p.Format, domain.ErrProviderNotConfigured)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("provider", p.ID).Str("model", p.Model).Str("request_id", req.RequestID).Msg("genai: text generation failed")
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: %s returned no text", domain.ErrProviderFailure, p.ID)
	}
	return &TextResult{Text: text, Model: p.Model}, nil
}

// GenerateImage renders one image with provider p.
func (c *Client) GenerateImage(ctx context.Context, p domain.Provider, req ImageRequest) (*ImageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !p.Usable(domain.CapabilityImage) {
		return nil, fmt.Errorf("provider %s: %w", p.ID, domain.ErrProviderNotConfigured)
	}
	var (
		res *ImageResult
		err error
	)
	switch p.Format {
	case domain.ProviderFormatGemini:
		res, err = c.geminiImage(ctx, p, req)
	case domain.ProviderFormatOpenAI:
		res, err = c.openAIImage(ctx, p, req)
	default:
		return nil, fmt.Errorf("provider %s: unsupported format %q: %w", p.ID, p.Format, domain.ErrProviderNotConfigured)
	}
	if err != nil {
		c.logger.Warn().Err(err).Str("provider", p.ID).Str("model", p.Model).Str("request_id", req.RequestID).Msg("genai: image generation failed")
		return nil, err
	}
	res.Model = p.Model
	if res.MimeType == "" {
		res.MimeType = "image/png"
	}
	res.Width, res.Height = decodeImageDimensions(res.Data)

	c.logger.Debug().
		Str("request_id", req.RequestID).
		Str("provider", p.ID).
		Str("model", p.Model).
		Int("bytes", len(res.Data)).
		Int("references", len(req.Images)).
		Msg("genai: generated image")

	return res, nil
}

type apiErrorResponse struct {
	Error struct {
		Code    any    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// post sends payload as JSON and decodes a successful response into out.
// Failures wrap domain.ErrProviderFailure and surface error.message.
func (c *Client) post(ctx context.Context, label, endpoint string, headers map[string]string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: invoke %s: %v", domain.ErrProviderFailure, label, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s response: %v", domain.ErrProviderFailure, label, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		var apiErr apiErrorResponse
		if err := json.Unmarshal(raw, &apiErr); err == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%w: %s status %d: %s", domain.ErrProviderFailure, label, resp.StatusCode, apiErr.Error.Message)
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return fmt.Errorf("%w: %s status %d: %s", domain.ErrProviderFailure, label, resp.StatusCode, truncate(text, 512))
		}
		return fmt.Errorf("%w: %s status %d", domain.ErrProviderFailure, label, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", domain.ErrProviderFailure, label, err)
	}
	return nil
}

func baseURL(p domain.Provider, fallback string) string {
	base := strings.TrimRight(strings.TrimSpace(p.BaseURL), "/")
	if base == "" {
		return fallback
	}
	return base
}

// Gemini

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature        float64            `json:"temperature,omitempty"`
	ResponseMimeType   string             `json:"responseMimeType,omitempty"`
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

func (c *Client) invokeGemini(ctx context.Context, p domain.Provider, payload geminiGenerateContentRequest) (*geminiGenerateContentResponse, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", baseURL(p, defaultGeminiBaseURL), url.PathEscape(p.Model))
	headers := map[string]string{}
	if p.APIKey != "" {
		headers["x-goog-api-key"] = p.APIKey
	}
	var out geminiGenerateContentResponse
	if err := c.post(ctx, "gemini", endpoint, headers, payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) geminiText(ctx context.Context, p domain.Provider, req TextRequest) (string, error) {
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: req.Prompt}}}},
		GenerationConfig: &geminiGenerationConfig{
			Temperature: req.Temperature,
		},
	}
	if req.System != "" {
		payload.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	if req.JSON {
		payload.GenerationConfig.ResponseMimeType = "application/json"
	}
	resp, err := c.invokeGemini(ctx, p, payload)
	if err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: gemini returned no candidates", domain.ErrProviderFailure)
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		b.WriteString(part.Text)
	}
	return b.String(), nil
}

func (c *Client) geminiImage(ctx context.Context, p domain.Provider, req ImageRequest) (*ImageResult, error) {
	parts := []geminiPart{{Text: req.Prompt}}
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			continue
		}
		if img.Label != "" {
			parts = append(parts, geminiPart{Text: img.Label})
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: img.MimeType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}
	if req.AspectRatio != "" {
		payload.GenerationConfig.ImageConfig = &geminiImageConfig{AspectRatio: req.AspectRatio}
	}

	resp, err := c.invokeGemini(ctx, p, payload)
	if err != nil && payload.GenerationConfig.ImageConfig != nil && isUnknownFieldError(err, "imageConfig") {
		payload.GenerationConfig.ImageConfig = nil
		resp, err = c.invokeGemini(ctx, p, payload)
	}
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			text.WriteString(part.Text)
			if part.InlineData == nil || part.InlineData.Data == "" {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, fmt.Errorf("%w: decode inline data: %v", domain.ErrProviderFailure, err)
			}
			return &ImageResult{Data: data, MimeType: part.InlineData.MimeType}, nil
		}
	}
	return nil, fmt.Errorf("%w: gemini returned no image%s", domain.ErrProviderFailure, describeText(text.String()))
}

// OpenAI

type openAIChatRequest struct {
	Model          string          `json:"model"`
	Messages       []openAIMessage `json:"messages"`
	Temperature    float64         `json:"temperature,omitempty"`
	ResponseFormat *openAIFormat   `json:"response_format,omitempty"`
	Modalities     []string        `json:"modalities,omitempty"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type openAIContentPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIFormat struct {
	Type string `json:"type"`
}

type openAIChatResponse struct {
	Choices []struct {
		Message struct {
			Content json.RawMessage     `json:"content"`
			Images  []openAIContentPart `json:"images"`
		} `json:"message"`
	} `json:"choices"`
}

func (c *Client) invokeOpenAI(ctx context.Context, p domain.Provider, payload openAIChatRequest) (*openAIChatResponse, error) {
	endpoint := baseURL(p, defaultOpenAIBaseURL) + "/chat/completions"
	headers := map[string]string{}
	if p.APIKey != "" {
		headers["Authorization"] = "Bearer " + p.APIKey
	}
	var out openAIChatResponse
	if err := c.post(ctx, "openai", endpoint, headers, payload, &out); err != nil {
		return nil, err
	}
	if len(out.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai returned no choices", domain.ErrProviderFailure)
	}
	return &out, nil
}

func (c *Client) openAIText(ctx context.Context, p domain.Provider, req TextRequest) (string, error) {
	payload := openAIChatRequest{
		Model:       p.Model,
		Temperature: req.Temperature,
	}
	if req.System != "" {
		payload.Messages = append(payload.Messages, openAIMessage{Role: "system", Content: req.System})
	}
	payload.Messages = append(payload.Messages, openAIMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		payload.ResponseFormat = &openAIFormat{Type: "json_object"}
	}
	resp, err := c.invokeOpenAI(ctx, p, payload)
	if err != nil {
		return "", err
	}
	return contentText(resp.Choices[0].Message.Content), nil
}

var dataURLPattern = regexp.MustCompile(`data:(image/[a-zA-Z0-9.+-]+);base64,([A-Za-z0-9+/=]+)`)

func (c *Client) openAIImage(ctx context.Context, p domain.Provider, req ImageRequest) (*ImageResult, error) {
	parts := []openAIContentPart{{Type: "text", Text: imagePromptText(req)}}
	for _, img := range req.Images {
		if len(img.Data) == 0 {
			continue
		}
		if img.Label != "" {
			parts = append(parts, openAIContentPart{Type: "text", Text: img.Label})
		}
		parts = append(parts, openAIContentPart{
			Type:     "image_url",
			ImageURL: &openAIImageURL{URL: DataURL(img.MimeType, img.Data)},
		})
	}
	payload := openAIChatRequest{
		Model:      p.Model,
		Messages:   []openAIMessage{{Role: "user", Content: parts}},
		Modalities: []string{"image", "text"},
	}
	resp, err := c.invokeOpenAI(ctx, p, payload)
	if err != nil {
		return nil, err
	}
	msg := resp.Choices[0].Message
	candidates := make([]string, 0, len(msg.Images)+1)
	for _, img := range msg.Images {
		if img.ImageURL != nil {
			candidates = append(candidates, img.ImageURL.URL)
		}
	}
	text := contentText(msg.Content)
	candidates = append(candidates, text)
	for _, candidate := range candidates {
		m := dataURLPattern.FindStringSubmatch(candidate)
		if m == nil {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(m[2])
		if err != nil {
			return nil, fmt.Errorf("%w: decode image data url: %v", domain.ErrProviderFailure, err)
		}
		return &ImageResult{Data: data, MimeType: m[1], Text: text}, nil
	}
	return nil, fmt.Errorf("%w: openai returned no image%s", domain.ErrProviderFailure, describeText(text))
}

// contentText flattens a chat message content that is either a string or an
// array of typed parts.
func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []openAIContentPart
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var b strings.Builder
	for _, part := range parts {
		switch {
		case part.Text != "":
			b.WriteString(part.Text)
		case part.ImageURL != nil:
			b.WriteString(part.ImageURL.URL)
		}
	}
	return b.String()
}

func imagePromptText(req ImageRequest) string {
	if req.AspectRatio == "" {
		return req.Prompt
	}
	return req.Prompt + "\n\nAspect ratio: " + req.AspectRatio
}

// DataURL encodes data as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	if mimeType == "" {
		mimeType = "image/png"
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// DecodeDataURL splits a base64 data URL into its bytes and mime type.
func DecodeDataURL(value string) ([]byte, string, error) {
	m := dataURLPattern.FindStringSubmatch(strings.TrimSpace(value))
	if m == nil {
		return nil, "", errors.New("not a base64 image data url")
	}
	data, err := base64.StdEncoding.DecodeString(m[2])
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return data, m[1], nil
}

func isUnknownFieldError(err error, field string) bool {
	message := err.Error()
	return strings.Contains(message, "Unknown name") && strings.Contains(message, field)
}

func decodeImageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func describeText(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return ": " + truncate(text, 200)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
