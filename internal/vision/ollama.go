package vision

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/image/draw"

	"github.com/cribwatch/cribwatch/internal/camera"
	"github.com/cribwatch/cribwatch/internal/conf"
	"github.com/cribwatch/cribwatch/internal/errors"
	"github.com/cribwatch/cribwatch/internal/logger"
	"github.com/cribwatch/cribwatch/internal/status"
)

// Defaults used when Config fields are zero.
const (
	DefaultURL         = "http://localhost:11434"
	DefaultModel       = "qwen3-vl:latest"
	DefaultTimeout     = 60 * time.Second
	DefaultMaxWidth    = 512
	DefaultJPEGQuality = 85
)

// Config configures an OllamaClassifier.
type Config struct {
	URL         string
	Model       string
	Prompt      string
	Timeout     time.Duration
	MaxWidth    int
	JPEGQuality int
}

// ConfigFromSettings maps vision settings onto a classifier config.
func ConfigFromSettings(s *conf.VisionSettings) Config {
	return Config{
		URL:         s.URL,
		Model:       s.Model,
		Prompt:      s.Prompt,
		Timeout:     s.Timeout,
		MaxWidth:    s.MaxWidth,
		JPEGQuality: s.JPEGQuality,
	}
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxWidth <= 0 {
		c.MaxWidth = DefaultMaxWidth
	}
	if c.JPEGQuality <= 0 {
		c.JPEGQuality = DefaultJPEGQuality
	}
	c.URL = strings.TrimRight(c.URL, "/")
	return c
}

type chatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   bool           `json:"stream"`
	Format   map[string]any `json:"format,omitempty"`
}

type chatResponse struct {
	Model   string      `json:"model"`
	Message chatMessage `json:"message"`
	Done    bool        `json:"done"`
	Error   string      `json:"error,omitempty"`
}

type tagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// classification is the JSON object the model is asked to produce.
type classification struct {
	FaceCovered     bool   `json:"face_covered"`
	Position        string `json:"position"`
	InCrib          *bool  `json:"in_crib"`
	LooseObjects    bool   `json:"loose_objects"`
	BlanketNearFace bool   `json:"blanket_near_face"`
	BabyVisible     *bool  `json:"baby_visible"`
	EyesOpen        *bool  `json:"eyes_open"`
	RiskLevel       string `json:"risk_level"`
	Description     string `json:"description"`
}

// responseSchema constrains the model output to a classification.
func responseSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"face_covered": map[string]any{"type": "boolean"},
			"position": map[string]any{
				"type": "string",
				"enum": []string{"supine", "prone", "side", "sitting", "unknown"},
			},
			"in_crib":           map[string]any{"type": "boolean"},
			"loose_objects":     map[string]any{"type": "boolean"},
			"blanket_near_face": map[string]any{"type": "boolean"},
			"baby_visible":      map[string]any{"type": "boolean"},
			"risk_level": map[string]any{
				"type": "string",
				"enum": []string{"safe", "warning", "danger"},
			},
			"description": map[string]any{"type": "string"},
		},
		"required": []string{"face_covered", "position", "in_crib", "risk_level", "description"},
	}
}

// OllamaClassifier classifies frames with an Ollama-hosted vision model
// through the /api/chat endpoint.
type OllamaClassifier struct {
	cfg     Config
	client  *resty.Client
	prompts PromptSource
	clock   func() time.Time
	log     logger.Logger
}

// Option configures an OllamaClassifier.
type Option func(*OllamaClassifier)

// WithPromptSource reads the prompt from ps on every call, falling back to
// the configured prompt when the key is unset.
func WithPromptSource(ps PromptSource) Option {
	return func(c *OllamaClassifier) { c.prompts = ps }
}

// NewOllamaClassifier returns a classifier for cfg.
func NewOllamaClassifier(cfg Config, opts ...Option) *OllamaClassifier {
	cfg = cfg.withDefaults()
	client := resty.New().
		SetBaseURL(cfg.URL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	c := &OllamaClassifier{
		cfg:    cfg,
		client: client,
		clock:  time.Now,
		log:    GetLogger().With(logger.String("model", cfg.Model)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Client returns the underlying REST client.
func (c *OllamaClassifier) Client() *resty.Client {
	return c.client
}

// Model returns the configured model name.
func (c *OllamaClassifier) Model() string {
	return c.cfg.Model
}

// Classify sends a downscaled JPEG of frame to the model and parses its
// structured answer.
func (c *OllamaClassifier) Classify(ctx context.Context, frame camera.Frame) (status.BabyStatus, error) {
	if frame.Empty() {
		return status.BabyStatus{}, visionError(errors.NewStd("empty frame"), "validate_frame")
	}
	img, err := c.encodeFrame(frame)
	if err != nil {
		return status.BabyStatus{}, visionError(err, "encode_frame")
	}

	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{{
			Role:    "user",
			Content: c.prompt(ctx),
			Images:  []string{base64.StdEncoding.EncodeToString(img)},
		}},
		Stream: false,
		Format: responseSchema(),
	}

	start := c.clock()
	var out chatResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		SetError(&out).
		Post("/api/chat")
	if err != nil {
		return status.BabyStatus{}, errors.New(err).
			Component("vision").
			Category(errors.CategoryNetwork).
			Context("operation", "chat").
			Context("url", logger.RedactURL(c.cfg.URL)).
			Build()
	}
	if resp.IsError() {
		return status.BabyStatus{}, errors.Newf("ollama returned status %d: %s", resp.StatusCode(), out.Error).
			Component("vision").
			Category(errors.CategoryHTTP).
			Context("status_code", resp.StatusCode()).
			Build()
	}

	baby, err := parseClassification(out.Message.Content)
	if err != nil {
		return status.BabyStatus{}, visionError(err, "parse_response")
	}
	baby.Timestamp = c.clock()

	c.log.Info("vision analysis",
		logger.String("risk_level", string(baby.RiskLevel)),
		logger.String("description", baby.Description),
		logger.Duration("duration", baby.Timestamp.Sub(start)))
	return baby, nil
}

// ListModels returns the models installed on the server.
func (c *OllamaClassifier) ListModels(ctx context.Context) ([]string, error) {
	var out tagsResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/api/tags")
	if err != nil {
		return nil, errors.New(err).
			Component("vision").
			Category(errors.CategoryNetwork).
			Context("operation", "list_models").
			Build()
	}
	if resp.IsError() {
		return nil, errors.Newf("ollama returned status %d", resp.StatusCode()).
			Component("vision").
			Category(errors.CategoryHTTP).
			Build()
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *OllamaClassifier) prompt(ctx context.Context) string {
	if c.prompts != nil {
		p, ok, err := c.prompts.GetConfig(ctx, PromptConfigKey)
		switch {
		case err != nil:
			c.log.Warn("failed to read prompt override", logger.Error(err))
		case ok && strings.TrimSpace(p) != "":
			return p
		}
	}
	if strings.TrimSpace(c.cfg.Prompt) != "" {
		return c.cfg.Prompt
	}
	return DefaultPrompt
}

func (c *OllamaClassifier) encodeFrame(frame camera.Frame) ([]byte, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}
	return camera.EncodeImageJPEG(Downscale(frame.Image(), c.cfg.MaxWidth), c.cfg.JPEGQuality)
}

// Downscale returns img scaled to at most maxWidth pixels wide, keeping the
// aspect ratio. Narrower images are returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}
	h := max(1, b.Dy()*maxWidth/b.Dx())
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// parseClassification decodes the model's JSON answer. Stray text around
// the object, such as markdown fences, is ignored. An unknown risk level is
// an error; an unknown position becomes PositionUnknown.
func parseClassification(content string) (status.BabyStatus, error) {
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end < start {
		return status.BabyStatus{}, errors.Newf("no JSON object in model response").
			Component("vision").
			Category(errors.CategoryVision).
			Context("content_length", len(content)).
			Build()
	}

	var cl classification
	if err := json.Unmarshal([]byte(content[start:end+1]), &cl); err != nil {
		return status.BabyStatus{}, err
	}
	risk := status.RiskLevel(strings.ToLower(strings.TrimSpace(cl.RiskLevel)))
	if !risk.Valid() {
		return status.BabyStatus{}, errors.Newf("invalid risk level %q", cl.RiskLevel).
			Component("vision").
			Category(errors.CategoryVision).
			Build()
	}

	baby := status.DefaultBabyStatus()
	baby.RiskLevel = risk
	baby.FaceCovered = cl.FaceCovered
	baby.Position = status.Position(strings.ToLower(strings.TrimSpace(cl.Position)))
	if cl.InCrib != nil {
		baby.InCrib = *cl.InCrib
	}
	baby.LooseObjects = cl.LooseObjects
	baby.BlanketNearFace = cl.BlanketNearFace
	if cl.BabyVisible != nil {
		baby.BabyVisible = *cl.BabyVisible
	}
	baby.EyesOpen = cl.EyesOpen
	baby.Description = strings.TrimSpace(cl.Description)
	return Derive(baby), nil
}

func visionError(err error, op string) error {
	return errors.New(err).
		Component("vision").
		Category(errors.CategoryVision).
		Context("operation", op).
		Build()
}

var _ Classifier = (*OllamaClassifier)(nil)
