package generator

import "context"

// LLMClient 抽象大模型客户端，便于替换/Mock。
// 成功时返回的文本非空。
type LLMClient interface {
	Complete(ctx context.Context, prompt Prompt) (string, error)
}

// ImageClient 抽象 OpenAI 兼容的图片生成服务，只返回图片字节，落盘由调用方负责。
type ImageClient interface {
	Generate(ctx context.Context, prompt, size string) ([]byte, error)
}

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Model   string
	APIKey  string
	BaseURL string
}

// ImageSettings 图片后端配置。
type ImageSettings struct {
	Model   string
	APIKey  string
	BaseURL string
}

const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 4096
	DefaultImageSize   = "1024x1024"
)
