package generator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"auto_xhs_publisher/apperr"
)

// OpenAILLM implements LLMClient using the official openai-go SDK (chat completions).
// Any OpenAI-compatible vendor (DeepSeek, 智谱, 通义, Moonshot...) works through BaseURL.
type OpenAILLM struct {
	Model string
	Opts  []option.RequestOption
}

func NewOpenAILLMFromConfig(cfg *LLMSettings, extra ...option.RequestOption) (*OpenAILLM, error) {
	if cfg == nil {
		return nil, errors.New("llm config is nil")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("llm api key missing; provide llm.api_key")
	}
	if cfg.Model == "" {
		return nil, errors.New("llm model is required")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("llm base_url is required (OpenAI-compatible endpoint)")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithBaseURL(cfg.BaseURL),
		// 重试策略由编排器统一负责
		option.WithMaxRetries(0),
		option.WithRequestTimeout(120 * time.Second),
	}
	opts = append(opts, extra...)
	return &OpenAILLM{Model: cfg.Model, Opts: opts}, nil
}

func (o *OpenAILLM) Complete(ctx context.Context, prompt Prompt) (string, error) {
	const op = "llm.Complete"
	if strings.TrimSpace(prompt.User) == "" {
		return "", apperr.Errorf(apperr.KindValidation, op, "empty user prompt")
	}
	client := openai.NewClient(o.Opts...)

	var msgs []openai.ChatCompletionMessageParamUnion
	if prompt.System != "" {
		msgs = append(msgs, openai.SystemMessage(prompt.System))
	}
	for _, h := range prompt.History {
		switch h.Role {
		case "assistant":
			msgs = append(msgs, openai.ChatCompletionMessageParamOfAssistant(h.Content))
		default:
			msgs = append(msgs, openai.UserMessage(h.Content))
		}
	}
	msgs = append(msgs, openai.UserMessage(prompt.User))

	temperature := DefaultTemperature
	if prompt.Temperature != nil {
		temperature = *prompt.Temperature
	}
	maxTokens := prompt.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.Model),
		Messages:    msgs,
		Temperature: openai.Float(temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	})
	if err != nil {
		return "", classify(op, err)
	}
	if len(resp.Choices) == 0 {
		return "", apperr.Errorf(apperr.KindProvider, op, "empty choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", apperr.Errorf(apperr.KindProvider, op, "empty content (finish_reason=%s)", resp.Choices[0].FinishReason)
	}
	return content, nil
}

// classify 把 SDK/传输层错误映射到统一的错误类别。
func classify(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apperr.E(kindForStatus(apiErr.StatusCode), op, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperr.E(apperr.KindTimeout, op, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return apperr.E(apperr.KindTimeout, op, err)
	}
	return apperr.E(apperr.KindProvider, op, err)
}

func kindForStatus(status int) apperr.Kind {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return apperr.KindAuth
	case status == http.StatusTooManyRequests:
		return apperr.KindRateLimit
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return apperr.KindTimeout
	default:
		return apperr.KindProvider
	}
}
