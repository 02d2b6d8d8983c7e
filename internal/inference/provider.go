// Package inference selects and drives an image-tagging backend for the
// auto_tag job definition: a local heuristic tagger, or a remote
// vision-language model reached through Gemini or Claude.
//
// Grounded in the teacher's internal/services/llm/provider.go and
// claude_service.go for the ProviderFactory/client-caching shape, and in
// internal/services/navexa/client.go for the rate.Limiter usage that
// throttles the remote backends. Tagging semantics follow
// original_source/lumina/jobs/parallel_tagging.py's tagging_worker.
package inference

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/irjudson/lumina/internal/common"
)

// Tag is one label an inference backend assigned to an image.
type Tag struct {
	Name       string
	Confidence int
}

// Backend identifies which tagging implementation produced a result.
type Backend string

const (
	BackendLocal  Backend = "local"
	BackendGemini Backend = "gemini"
	BackendClaude Backend = "claude"
)

// Tagger produces tags for one image. Remote implementations are expected
// to be rate-limited internally; callers do not need to throttle calls.
type Tagger interface {
	TagImage(ctx context.Context, imagePath string, threshold float64, maxTags int) ([]Tag, error)
	Backend() Backend
	Close() error
}

// ProviderFactory resolves a Backend selection to a ready-to-use Tagger,
// caching remote API clients the same way the teacher's ProviderFactory
// caches its Gemini/Claude clients.
type ProviderFactory struct {
	geminiConfig common.GeminiConfig
	claudeConfig common.ClaudeConfig
	logger       arbor.ILogger

	geminiClient *genai.Client
	claudeClient anthropic.Client
	claudeReady  bool
}

// NewProviderFactory constructs a factory; clients are created lazily on
// first use of Get.
func NewProviderFactory(geminiConfig common.GeminiConfig, claudeConfig common.ClaudeConfig, logger arbor.ILogger) *ProviderFactory {
	return &ProviderFactory{geminiConfig: geminiConfig, claudeConfig: claudeConfig, logger: logger}
}

// Get resolves a backend selection to a Tagger.
func (f *ProviderFactory) Get(ctx context.Context, backend Backend) (Tagger, error) {
	switch backend {
	case BackendGemini:
		return f.geminiTagger(ctx)
	case BackendClaude:
		return f.claudeTagger(ctx)
	default:
		return &LocalTagger{}, nil
	}
}

func (f *ProviderFactory) geminiTagger(ctx context.Context) (Tagger, error) {
	if f.geminiClient == nil {
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  f.geminiConfig.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create gemini client: %w", err)
		}
		f.geminiClient = client
	}

	limit, err := parseRateLimit(f.geminiConfig.RateLimit)
	if err != nil {
		return nil, err
	}

	return &remoteTagger{
		backend: BackendGemini,
		model:   f.geminiConfig.Model,
		limiter: rate.NewLimiter(limit, 1),
		call: func(ctx context.Context, imagePath string) (string, error) {
			resp, err := f.geminiClient.Models.GenerateContent(ctx, f.geminiConfig.Model,
				genai.NewContentFromText(taggingPrompt(imagePath), genai.RoleUser), nil)
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		},
	}, nil
}

func (f *ProviderFactory) claudeTagger(ctx context.Context) (Tagger, error) {
	if !f.claudeReady {
		f.claudeClient = anthropic.NewClient(option.WithAPIKey(f.claudeConfig.APIKey))
		f.claudeReady = true
	}

	limit, err := parseRateLimit(f.claudeConfig.RateLimit)
	if err != nil {
		return nil, err
	}

	maxTokens := f.claudeConfig.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	return &remoteTagger{
		backend: BackendClaude,
		model:   f.claudeConfig.Model,
		limiter: rate.NewLimiter(limit, 1),
		call: func(ctx context.Context, imagePath string) (string, error) {
			resp, err := f.claudeClient.Messages.New(ctx, anthropic.MessageNewParams{
				Model:     anthropic.Model(f.claudeConfig.Model),
				MaxTokens: int64(maxTokens),
				Messages: []anthropic.MessageParam{
					anthropic.NewUserMessage(anthropic.NewTextBlock(taggingPrompt(imagePath))),
				},
			})
			if err != nil {
				return "", err
			}
			var text strings.Builder
			for _, block := range resp.Content {
				if block.Type == "text" {
					text.WriteString(block.Text)
				}
			}
			return text.String(), nil
		},
	}, nil
}

// Close releases cached remote clients.
func (f *ProviderFactory) Close() error {
	f.geminiClient = nil
	f.claudeClient = anthropic.Client{}
	f.claudeReady = false
	return nil
}

// parseRateLimit converts a "4s" style interval-per-request string into a
// rate.Limit (requests per second); an empty string means unlimited.
func parseRateLimit(interval string) (rate.Limit, error) {
	if interval == "" {
		return rate.Inf, nil
	}
	d, err := time.ParseDuration(interval)
	if err != nil {
		return 0, fmt.Errorf("parse rate limit %q: %w", interval, err)
	}
	if d <= 0 {
		return rate.Inf, nil
	}
	return rate.Every(d), nil
}

func taggingPrompt(imagePath string) string {
	return fmt.Sprintf("List up to 10 short, comma-separated descriptive tags for the photo at %s. Respond with only the comma-separated tag list.", filepath.Base(imagePath))
}

// remoteTagger wraps a rate-limited call to a remote vision model, parsing
// its comma-separated text response into Tags.
type remoteTagger struct {
	backend Backend
	model   string
	limiter *rate.Limiter
	call    func(ctx context.Context, imagePath string) (string, error)
}

func (t *remoteTagger) Backend() Backend { return t.backend }
func (t *remoteTagger) Close() error     { return nil }

func (t *remoteTagger) TagImage(ctx context.Context, imagePath string, threshold float64, maxTags int) ([]Tag, error) {
	if err := t.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	text, err := t.call(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("%s tagging call: %w", t.backend, err)
	}

	return parseTagList(text, maxTags), nil
}

func parseTagList(text string, maxTags int) []Tag {
	parts := strings.Split(text, ",")
	tags := make([]Tag, 0, len(parts))
	for _, p := range parts {
		name := strings.ToLower(strings.TrimSpace(p))
		if name == "" {
			continue
		}
		tags = append(tags, Tag{Name: name, Confidence: 80})
		if len(tags) >= maxTags {
			break
		}
	}
	return tags
}
