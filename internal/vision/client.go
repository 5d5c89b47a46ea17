// Package vision wraps the hosted generative model used for photo analysis
// and text moderation.
package vision

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	apperrors "github.com/betterme/betterme/internal/errors"
	"github.com/betterme/betterme/internal/logger"
	"github.com/betterme/betterme/internal/models"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrImageTooBlurry is returned when the model refuses to rate unclear photos.
var ErrImageTooBlurry = apperrors.NewValidation("one or more images are too blurry, retake your photos in better lighting")

const blurryReply = "Image too blurry"

type Config struct {
	APIKey          string
	BaseURL         string
	Model           string
	ModerationModel string
	Timeout         time.Duration
	Transport       http.RoundTripper
}

// Client calls the generateContent endpoint.
type Client struct {
	http            *resty.Client
	model           string
	moderationModel string
}

func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.ModerationModel == "" {
		cfg.ModerationModel = cfg.Model
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}

	h := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("x-goog-api-key", cfg.APIKey).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)
	if cfg.Transport != nil {
		h.SetTransport(cfg.Transport)
	}

	return &Client{http: h, model: cfg.Model, moderationModel: cfg.ModerationModel}
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateRequest struct {
	Contents         []content         `json:"contents"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
	SafetySettings   []safetySetting   `json:"safetySettings,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (r *generateResponse) text() string {
	var b strings.Builder
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
		if b.Len() > 0 {
			break
		}
	}
	return b.String()
}

// Photos of faces and bodies trip the default filters.
var analysisSafety = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
}

func (c *Client) generate(ctx context.Context, model string, req generateRequest) (string, error) {
	var out generateResponse
	var apiErr apiError
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("model", model).
		SetBody(req).
		SetResult(&out).
		SetError(&apiErr).
		Post("/v1beta/models/{model}:generateContent")
	if err != nil {
		return "", apperrors.NewNetwork("vision request failed", err)
	}
	if !resp.IsSuccess() {
		msg := apiErr.Error.Message
		if msg == "" {
			msg = resp.Status()
		}
		t := apperrors.ErrorTypeServer
		switch resp.StatusCode() {
		case http.StatusTooManyRequests:
			t = apperrors.ErrorTypeRateLimit
		case http.StatusBadRequest:
			t = apperrors.ErrorTypeValidation
		case http.StatusUnauthorized, http.StatusForbidden:
			t = apperrors.ErrorTypeAuth
		}
		return "", apperrors.New(t, "vision request failed", errors.New(msg))
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", apperrors.NewModeration("request blocked: " + out.PromptFeedback.BlockReason)
	}

	text := out.text()
	if text == "" {
		return "", apperrors.New(apperrors.ErrorTypeServer, "model returned no text", nil)
	}
	return text, nil
}

// Analyze rates a full set of photos. It returns ErrImageTooBlurry when the
// model declines to rate them.
func (c *Client) Analyze(ctx context.Context, photos Photos, gender models.Gender) (*AnalysisResult, error) {
	if missing := photos.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, s := range missing {
			names[i] = string(s)
		}
		return nil, apperrors.NewValidation("missing required photos: " + strings.Join(names, ", "))
	}

	parts := []part{{Text: analysisPrompt(gender)}}
	for _, s := range Slots {
		img := photos[s]
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: img.MIMEType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	text, err := c.generate(ctx, c.model, generateRequest{
		Contents:         []content{{Role: "user", Parts: parts}},
		GenerationConfig: &generationConfig{Temperature: 0.7, TopP: 0.8, TopK: 40, MaxOutputTokens: 8192},
		SafetySettings:   analysisSafety,
	})
	if err != nil {
		return nil, err
	}

	if strings.TrimSpace(text) == blurryReply {
		return nil, ErrImageTooBlurry
	}

	raw, err := extractJSON(text)
	if err != nil {
		logger.Log.Debug("Unparseable analysis response", zap.String("text", text))
		return nil, fmt.Errorf("failed to parse analysis results: %w", err)
	}

	var result AnalysisResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, apperrors.New(apperrors.ErrorTypeValidation, "failed to parse analysis results", err)
	}
	if err := result.Validate(); err != nil {
		return nil, err
	}
	return &result, nil
}

// ModerationResult is the verdict on a piece of user text.
type ModerationResult struct {
	Acceptable bool   `json:"isAcceptable"`
	Reason     string `json:"reason,omitempty"`
}

// Moderate checks text for harmful content. When the model cannot be
// reached or its answer cannot be parsed the text is accepted.
func (c *Client) Moderate(ctx context.Context, text string) ModerationResult {
	reply, err := c.generate(ctx, c.moderationModel, generateRequest{
		Contents: []content{{Role: "user", Parts: []part{{Text: moderationPrompt(text)}}}},
	})
	if err != nil {
		logger.WarnWithFields("Moderation unavailable, accepting content", err)
		return ModerationResult{Acceptable: true}
	}

	raw, err := extractJSON(reply)
	if err != nil {
		logger.WarnWithFields("Unparseable moderation result, accepting content", err)
		return ModerationResult{Acceptable: true}
	}

	var wire struct {
		Acceptable *bool   `json:"isAcceptable"`
		Reason     *string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(raw), &wire); err != nil || wire.Acceptable == nil {
		logger.WarnWithFields("Unparseable moderation result, accepting content", err)
		return ModerationResult{Acceptable: true}
	}

	result := ModerationResult{Acceptable: *wire.Acceptable}
	if wire.Reason != nil {
		result.Reason = *wire.Reason
	}
	return result
}

// Check moderates text and returns a moderation error when it is rejected.
func (c *Client) Check(ctx context.Context, text string) error {
	r := c.Moderate(ctx, text)
	if r.Acceptable {
		return nil
	}
	return apperrors.NewModeration(r.Reason)
}
