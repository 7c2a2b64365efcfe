package generator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"auto_xhs_publisher/apperr"
)

// Researcher 为正文提供联网检索到的真实资料，可选。
type Researcher interface {
	Context(ctx context.Context, query string) (string, error)
}

// ContentGenerator 负责分类、标题和正文的生成。
type ContentGenerator struct {
	llm      LLMClient
	prompts  *PromptSet
	research Researcher
	logger   *log.Logger
}

// ContentOption customizes a ContentGenerator.
type ContentOption func(*ContentGenerator)

// WithPrompts overrides the system prompt set.
func WithPrompts(p *PromptSet) ContentOption {
	return func(g *ContentGenerator) { g.prompts = p }
}

// WithResearcher enables search-grounded body generation.
func WithResearcher(r Researcher) ContentOption {
	return func(g *ContentGenerator) { g.research = r }
}

// WithLogger sets the logger used for degraded-path messages.
func WithLogger(l *log.Logger) ContentOption {
	return func(g *ContentGenerator) { g.logger = l }
}

func NewContentGenerator(llm LLMClient, opts ...ContentOption) (*ContentGenerator, error) {
	if llm == nil {
		return nil, errors.New("llm client is required")
	}
	g := &ContentGenerator{llm: llm, prompts: NewPromptSet(""), logger: log.Default()}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// InferCategory classifies theme into the fixed set; an unrecognised reply yields CategoryGeneral.
func (g *ContentGenerator) InferCategory(ctx context.Context, theme string) (Category, error) {
	if err := requireTheme("content.InferCategory", theme); err != nil {
		return "", err
	}
	raw, err := g.llm.Complete(ctx, BuildCategoryPrompt(theme))
	if err != nil {
		return "", err
	}
	reply := strings.Trim(strings.TrimSpace(raw), "\"'“”。.")
	if c, ok := matchCategory(reply); ok {
		return c, nil
	}
	// 模型偶尔会多说几句，退而取回复里最后提到的类别名
	best, bestAt := CategoryGeneral, -1
	for _, info := range categoryInfos {
		if i := strings.LastIndex(reply, info.label); i > bestAt {
			best, bestAt = info.key, i
		}
	}
	return best, nil
}

// GenerateTitles returns exactly count distinct titles. A batch with duplicates
// or too few entries is retried once; distinct titles from both batches are merged,
// and if that is still short a full batch is accepted with its duplicates.
func (g *ContentGenerator) GenerateTitles(ctx context.Context, theme string, c Category, count, attempt int) ([]string, error) {
	const op = "content.GenerateTitles"
	if err := requireTheme(op, theme); err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, apperr.Errorf(apperr.KindValidation, op, "count must be positive, got %d", count)
	}

	prompt := BuildTitlesPrompt(g.prompts.System(c), theme, c, count)
	prompt.Temperature = samplingTemperature(attempt)

	raw, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	first := parseTitles(raw)
	if unique := dedupe(first); len(unique) >= count && len(first) == len(unique) {
		return unique[:count], nil
	}

	raw, err = g.llm.Complete(ctx, prompt)
	if err != nil {
		return nil, err
	}
	second := parseTitles(raw)
	merged := dedupe(append(append([]string{}, second...), first...))
	if len(merged) >= count {
		return merged[:count], nil
	}
	for _, batch := range [][]string{second, first} {
		if len(batch) >= count {
			g.logger.Printf("[content] accepting %d titles with duplicates after retry", count)
			return batch[:count], nil
		}
	}
	return nil, apperr.Errorf(apperr.KindProvider, op, "model returned %d usable titles, want %d", len(merged), count)
}

// GenerateBody writes the note body and tags for the chosen title.
func (g *ContentGenerator) GenerateBody(ctx context.Context, theme string, c Category, title string, attempt int) (Body, error) {
	const op = "content.GenerateBody"
	if err := requireTheme(op, theme); err != nil {
		return Body{}, err
	}
	if strings.TrimSpace(title) == "" {
		return Body{}, apperr.Errorf(apperr.KindValidation, op, "title is required")
	}

	var research string
	if g.research != nil {
		ctxText, err := g.research.Context(ctx, title)
		if err != nil {
			g.logger.Printf("[content] research failed, continuing without context: %v", err)
		}
		research = ctxText
	}

	prompt := BuildBodyPrompt(g.prompts.System(c), theme, c, title, research)
	prompt.Temperature = samplingTemperature(attempt)
	return g.completeBody(ctx, op, prompt)
}

// RefineBody revises prev following a human suggestion; the title is kept.
func (g *ContentGenerator) RefineBody(ctx context.Context, theme string, c Category, prev Draft, suggestion string, attempt int) (Body, error) {
	const op = "content.RefineBody"
	if strings.TrimSpace(suggestion) == "" {
		return Body{}, apperr.Errorf(apperr.KindValidation, op, "suggestion is required")
	}
	prompt := BuildRefinePrompt(g.prompts.System(c), theme, c, prev, suggestion)
	prompt.Temperature = samplingTemperature(attempt)
	return g.completeBody(ctx, op, prompt)
}

func (g *ContentGenerator) completeBody(ctx context.Context, op string, prompt Prompt) (Body, error) {
	raw, err := g.llm.Complete(ctx, prompt)
	if err != nil {
		return Body{}, err
	}
	body, err := parseBody(raw)
	if err != nil {
		return Body{}, apperr.E(apperr.KindProvider, op, err)
	}
	if len(body.Tags) == 0 {
		return Body{}, apperr.Errorf(apperr.KindProvider, op, "model returned no tags")
	}
	return body, nil
}

func requireTheme(op, theme string) error {
	if strings.TrimSpace(theme) == "" {
		return apperr.E(apperr.KindValidation, op, fmt.Errorf("theme is required"))
	}
	return nil
}
