// Package vision classifies captured screen images with a multimodal model
// and degrades to a deterministic keyword heuristic when the model's output
// is not well-formed. Nothing in this package escapes as an error the caller
// must handle specially: a hard failure yields a nil analysis, identical to
// the classifier being disabled.
package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/glimpse-app/glimpse/internal/capture"
	"github.com/glimpse-app/glimpse/internal/common"
	"github.com/glimpse-app/glimpse/internal/logging"
	"github.com/glimpse-app/glimpse/internal/models"
)

const prompt = `Look at this screenshot and classify what the user is doing.
Respond with ONLY a JSON object, no markdown fences, in this exact shape:
{
  "category": "focus|communication|research|break|creative|other",
  "activity_title": "short human-readable title",
  "confidence": 0.0,
  "details": {
    "primary_application": "",
    "content_type": "",
    "productivity_indicator": "productive|neutral|distracting",
    "distraction_level": "low|medium|high"
  },
  "insights": []
}`

// Classifier wraps the external image-understanding model call.
type Classifier struct {
	model   string
	timeout time.Duration
	logger  logging.Logger

	// generate produces the raw model text for a frame. Swappable in tests.
	generate func(ctx context.Context, frame *capture.Frame) (string, error)
}

// New builds a Classifier. A nil client (no credential configured) produces
// a classifier whose Classify always returns nil without a network call.
func New(client *genai.Client, model string, timeout time.Duration, logger logging.Logger) *Classifier {
	c := &Classifier{model: model, timeout: timeout, logger: logger}
	if client != nil {
		c.generate = func(ctx context.Context, frame *capture.Frame) (string, error) {
			contents := []*genai.Content{{Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: frame.PNG}},
			}}}
			resp, err := client.Models.GenerateContent(ctx, model, contents, nil)
			if err != nil {
				return "", err
			}
			if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil ||
				len(resp.Candidates[0].Content.Parts) == 0 {
				return "", fmt.Errorf("empty model response")
			}
			return resp.Candidates[0].Content.Parts[0].Text, nil
		}
	}
	return c
}

// Enabled reports whether a model credential is configured.
func (c *Classifier) Enabled() bool {
	return c.generate != nil
}

// Classify sends the frame to the model and returns a tagged analysis.
// Returns (nil, nil) when the classifier is disabled or the call hard-fails;
// the scheduler treats both identically.
func (c *Classifier) Classify(ctx context.Context, frame *capture.Frame) (*models.Analysis, error) {
	if !c.Enabled() {
		return nil, nil
	}

	// The underlying HTTP client has no deadline of its own; without this a
	// stalled call would block the next scheduler tick indefinitely.
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	raw, err := c.generate(ctx, frame)
	if err != nil {
		c.logger.Warn(ctx, "classification call failed", "error", err)
		return nil, nil
	}

	analysis, err := parseStructured(raw)
	if err == nil {
		return analysis, nil
	}
	c.logger.Debug(ctx, "structured parse failed, using keyword fallback", "error", err)

	return fallbackAnalysis(raw), nil
}

// rawAnalysis mirrors the JSON shape the model is asked for.
type rawAnalysis struct {
	Category      string   `json:"category"`
	ActivityTitle string   `json:"activity_title"`
	Confidence    float64  `json:"confidence"`
	Details       struct {
		PrimaryApplication    string `json:"primary_application"`
		ContentType           string `json:"content_type"`
		ProductivityIndicator string `json:"productivity_indicator"`
		DistractionLevel      string `json:"distraction_level"`
	} `json:"details"`
	Insights []string `json:"insights"`
}

// parseStructured validates the raw response into a structured analysis.
// Models love to wrap JSON in markdown fences, so those are stripped first.
func parseStructured(raw string) (*models.Analysis, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var r rawAnalysis
	if err := json.Unmarshal([]byte(text), &r); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidAnalysis, err)
	}

	category := models.Category(r.Category)
	if !category.Valid() {
		return nil, fmt.Errorf("%w: unknown category %q", common.ErrInvalidAnalysis, r.Category)
	}
	if r.ActivityTitle == "" {
		return nil, fmt.Errorf("%w: missing activity_title", common.ErrInvalidAnalysis)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return nil, fmt.Errorf("%w: confidence %v out of range", common.ErrInvalidAnalysis, r.Confidence)
	}

	return &models.Analysis{
		Kind:       models.AnalysisStructured,
		Category:   category,
		Title:      r.ActivityTitle,
		Confidence: r.Confidence,
		Details: models.AnalysisDetails{
			PrimaryApplication:    r.Details.PrimaryApplication,
			ContentType:           r.Details.ContentType,
			ProductivityIndicator: r.Details.ProductivityIndicator,
			DistractionLevel:      r.Details.DistractionLevel,
		},
		Insights: r.Insights,
	}, nil
}

// keywordRule maps a substring of the raw response to a category.
// Order matters: first match wins.
type keywordRule struct {
	substr     string
	category   models.Category
	confidence float64
	title      string
	productive string
}

var keywordRules = []keywordRule{
	{"code", models.CategoryFocus, 0.7, "Coding", "productive"},
	{"editor", models.CategoryFocus, 0.65, "Editing", "productive"},
	{"meeting", models.CategoryCommunication, 0.7, "Meeting", "productive"},
	{"email", models.CategoryCommunication, 0.65, "Email", "neutral"},
	{"chat", models.CategoryCommunication, 0.6, "Chatting", "neutral"},
	{"research", models.CategoryResearch, 0.7, "Research", "productive"},
	{"reading", models.CategoryResearch, 0.6, "Reading", "productive"},
	{"break", models.CategoryBreak, 0.7, "Taking a break", "neutral"},
	{"video", models.CategoryBreak, 0.55, "Watching video", "distracting"},
	{"design", models.CategoryCreative, 0.7, "Designing", "productive"},
	{"drawing", models.CategoryCreative, 0.6, "Drawing", "productive"},
}

// fallbackAnalysis infers a category from substrings of the raw text when it
// could not be parsed as JSON. Confidence lands in [0.5, 0.7] and the result
// is tagged as a fallback so downstream consumers can discount it.
func fallbackAnalysis(raw string) *models.Analysis {
	lower := strings.ToLower(raw)

	category := models.CategoryOther
	confidence := 0.5
	title := "Unclassified activity"
	productive := "neutral"
	for _, rule := range keywordRules {
		if strings.Contains(lower, rule.substr) {
			category = rule.category
			confidence = rule.confidence
			title = rule.title
			productive = rule.productive
			break
		}
	}

	return &models.Analysis{
		Kind:       models.AnalysisFallback,
		Category:   category,
		Title:      title,
		Confidence: confidence,
		Details: models.AnalysisDetails{
			ProductivityIndicator: productive,
			DistractionLevel:      "medium",
		},
	}
}
