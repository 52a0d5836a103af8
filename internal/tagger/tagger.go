// Package tagger suggests tags for a link using the Anthropic Messages API.
package tagger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/JakeFAU/linkcapture/internal/capture"
)

const (
	defaultModel     = "claude-sonnet-4-20250514"
	defaultMaxTokens = 100
)

// ErrUnparseable is returned when the model reply holds no tag list.
var ErrUnparseable = errors.New("failed to parse tag suggestions")

// DefaultVocabulary is the tag set of the existing link collection,
// most used first.
var DefaultVocabulary = []string{
	"development", "design", "css", "apple", "react", "javascript", "ios",
	"photography", "animation", "typography", "ux", "shortcuts", "history",
	"apps", "privacy", "ai", "ui", "tools", "svg", "react-native", "macos",
	"iphone", "icons", "gatsbyjs", "gaming", "frontend", "sports", "safari",
	"progressive-web-apps", "movies", "ipad", "internet-of-things", "emoji",
	"accessibility", "typescript", "nextjs", "tailwind", "web", "performance",
	"security", "testing", "video", "music", "home-automation", "homekit",
	"smart-home",
}

// Config selects the model and credentials.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int64
	Vocabulary []string
}

// Tagger asks a model for 2-5 tags, preferring the known vocabulary.
type Tagger struct {
	client     anthropic.Client
	model      string
	maxTokens  int64
	vocabulary []string
	logger     *zap.Logger
}

var _ capture.TagSuggester = (*Tagger)(nil)

// New builds a Tagger. It fails when no API key is configured.
func New(cfg Config, logger *zap.Logger, opts ...option.RequestOption) (*Tagger, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if len(cfg.Vocabulary) == 0 {
		cfg.Vocabulary = DefaultVocabulary
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &Tagger{
		client:     anthropic.NewClient(reqOpts...),
		model:      cfg.Model,
		maxTokens:  cfg.MaxTokens,
		vocabulary: append([]string(nil), cfg.Vocabulary...),
		logger:     logger.Named("tagger"),
	}, nil
}

// Vocabulary returns the preferred tag set.
func (t *Tagger) Vocabulary() []string {
	return append([]string(nil), t.vocabulary...)
}

// Suggest returns lowercase tags for the link.
func (t *Tagger) Suggest(ctx context.Context, title, url, description string) ([]string, error) {
	if strings.TrimSpace(title) == "" {
		return nil, capture.Rejected("title is required for tag suggestions", nil)
	}

	resp, err := t.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(t.model),
		MaxTokens: t.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(t.prompt(title, url, description))),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("anthropic generation failed: %w", err)
	}

	for _, block := range resp.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			tags, err := ParseTags(b.Text)
			if err != nil {
				t.logger.Debug("unparseable reply", zap.String("text", b.Text))
				return nil, err
			}
			return tags, nil
		}
	}
	return nil, fmt.Errorf("reply held no text block")
}

func (t *Tagger) prompt(title, url, description string) string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant that suggests tags for a links page on a personal website. ")
	b.WriteString("The website owner saves interesting links about web development, design, Apple products, and technology.\n\n")
	b.WriteString("Given the following link information, suggest 2-5 relevant tags from the existing vocabulary. ")
	b.WriteString("You may also suggest 1-2 new tags if the content clearly warrants it, but prefer using existing tags when possible.\n\n")
	b.WriteString("EXISTING TAGS (prefer these):\n")
	b.WriteString(strings.Join(t.vocabulary, ", "))
	b.WriteString("\n\nLINK INFORMATION:\nTitle: ")
	b.WriteString(title)
	b.WriteString("\n")
	if description != "" {
		b.WriteString("Description: " + description + "\n")
	}
	if url != "" {
		b.WriteString("URL: " + url + "\n")
	}
	b.WriteString("\nRespond with ONLY a JSON array of tag strings, nothing else. ")
	b.WriteString(`Example: ["development", "react", "typescript"]`)
	b.WriteString("\n\nImportant:\n- Use lowercase for all tags\n")
	b.WriteString("- Use hyphens for multi-word tags (e.g., \"react-native\" not \"react native\")\n")
	b.WriteString("- Be specific but not too granular\n")
	b.WriteString("- Suggest tags that would help organize and find this link later")
	return b.String()
}

var bracketed = regexp.MustCompile(`\[([^\]]+)\]`)

// ParseTags reads a JSON array of strings from text. When text is not a
// JSON array, the first bracketed group is split on commas instead.
func ParseTags(text string) ([]string, error) {
	text = strings.TrimSpace(text)

	var raw []any
	if err := json.Unmarshal([]byte(text), &raw); err == nil {
		tags := make([]string, 0, len(raw))
		for _, v := range raw {
			if s, ok := v.(string); ok {
				if tag := strings.ToLower(strings.TrimSpace(s)); tag != "" {
					tags = append(tags, tag)
				}
			}
		}
		return tags, nil
	}

	m := bracketed.FindStringSubmatch(text)
	if m == nil {
		return nil, ErrUnparseable
	}
	var tags []string
	for _, part := range strings.Split(m[1], ",") {
		tag := strings.ToLower(strings.NewReplacer(`"`, "", `'`, "").Replace(strings.TrimSpace(part)))
		if tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags, nil
}
