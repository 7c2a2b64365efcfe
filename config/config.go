package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"auto_xhs_publisher/generator"
)

// DefaultFile is where --save-config writes and where Load looks by default.
const DefaultFile = "data/config.json"

// Config 聚合一次运行需要的全部配置，字段固定，不接受任意键值。
type Config struct {
	LLM        LLMConfig       `json:"llm" yaml:"llm"`
	Image      ImageConfig     `json:"image" yaml:"image"`
	Search     SearchConfig    `json:"search" yaml:"search"`
	Publisher  PublisherConfig `json:"publisher" yaml:"publisher"`
	Category   string          `json:"category" yaml:"category"`
	Credential string          `json:"credential,omitempty" yaml:"credential,omitempty"`
	DataDir    string          `json:"data_dir" yaml:"data_dir"`
	PromptDir  string          `json:"prompt_dir,omitempty" yaml:"prompt_dir,omitempty"`
	ServerAddr string          `json:"server_addr,omitempty" yaml:"server_addr,omitempty"`
	TitleCount int             `json:"title_count" yaml:"title_count"`
}

type LLMConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

type ImageConfig struct {
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url" yaml:"base_url"`
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Size    string `json:"size,omitempty" yaml:"size,omitempty"`
}

type SearchConfig struct {
	APIKey  string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	Enabled bool   `json:"enabled" yaml:"enabled"`
}

type PublisherConfig struct {
	BaseURL    string `json:"base_url" yaml:"base_url"`
	CookieFile string `json:"cookie_file" yaml:"cookie_file"`
}

// Default returns the built-in settings (DeepSeek for text, CogView for images).
func Default() Config {
	return Config{
		LLM:        LLMConfig{Model: "deepseek-chat", BaseURL: "https://api.deepseek.com"},
		Image:      ImageConfig{Model: "cogview-3-plus", BaseURL: "https://open.bigmodel.cn/api/paas/v4", Size: generator.DefaultImageSize},
		Search:     SearchConfig{Enabled: true},
		Publisher:  PublisherConfig{BaseURL: "https://edith.xiaohongshu.com", CookieFile: "data/.xhs_cookie.json"},
		Category:   string(generator.CategoryAuto),
		DataDir:    "data",
		ServerAddr: ":8080",
		TitleCount: 10,
	}
}

// Load builds the configuration from defaults, then the environment, then
// the config file at path. A missing file is only an error when required.
func Load(path string, required bool) (Config, error) {
	cfg := Default()
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if path == "" {
		return cfg, nil
	}
	found, err := cfg.LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	if !found && required {
		return Config{}, fmt.Errorf("config file %s not found", path)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables (see Help).
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("LLM_MODEL", &c.LLM.Model)
	str("LLM_BASE_URL", &c.LLM.BaseURL)
	str("LLM_API_KEY", &c.LLM.APIKey)
	str("IMAGE_MODEL", &c.Image.Model)
	str("IMAGE_BASE_URL", &c.Image.BaseURL)
	str("IMAGE_API_KEY", &c.Image.APIKey)
	str("IMAGE_SIZE", &c.Image.Size)
	str("SEARCH_API_KEY", &c.Search.APIKey)
	str("XHS_COOKIE", &c.Credential)
	str("XHS_BASE_URL", &c.Publisher.BaseURL)
	str("XHS_COOKIE_FILE", &c.Publisher.CookieFile)
	str("CATEGORY", &c.Category)
	str("DATA_DIR", &c.DataDir)
	str("PROMPT_DIR", &c.PromptDir)

	if v, ok := lookup("SEARCH_ENABLED"); ok && strings.TrimSpace(v) != "" {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid SEARCH_ENABLED value: %w", err)
		}
		c.Search.Enabled = b
	}
	if v, ok := lookup("TITLE_COUNT"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid TITLE_COUNT value: %w", err)
		}
		c.TitleCount = n
	}
	if v, ok := lookup("SERVER_ADDR"); ok && strings.TrimSpace(v) != "" {
		addr, err := normalizeAddr(v)
		if err != nil {
			return err
		}
		c.ServerAddr = addr
	}
	return nil
}

// normalizeAddr 允许直接写端口 "8080"，也允许 ":8080" 或 "127.0.0.1:8080"。
func normalizeAddr(raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if strings.Contains(v, " ") {
		return "", fmt.Errorf("invalid server address: %q", raw)
	}
	if strings.Contains(v, ":") {
		return v, nil
	}
	if _, err := strconv.Atoi(v); err != nil {
		return "", fmt.Errorf("invalid server address: %q", raw)
	}
	return ":" + v, nil
}

// LoadFile merges a JSON or YAML file (chosen by extension) over c. Only
// keys present in the file change. It reports whether the file existed.
func (c *Config) LoadFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return true, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, c); err != nil {
			return true, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	return true, nil
}

// Save writes c to path without API keys or cookies.
func (c Config) Save(path string) error {
	clean := c
	clean.LLM.APIKey = ""
	clean.Image.APIKey = ""
	clean.Search.APIKey = ""
	clean.Credential = ""

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(clean)
	default:
		data, err = json.MarshalIndent(clean, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate checks fields every run needs.
func (c Config) Validate() error {
	if _, err := generator.ParseCategory(c.Category); err != nil {
		return err
	}
	if c.TitleCount <= 0 {
		return fmt.Errorf("title_count must be positive, got %d", c.TitleCount)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return errors.New("data_dir is required")
	}
	return nil
}

// ValidateBackends checks the text backend, and the image backend when it
// is enabled by an API key.
func (c Config) ValidateBackends() error {
	var missing []string
	if c.LLM.Model == "" {
		missing = append(missing, "LLM_MODEL")
	}
	if c.LLM.BaseURL == "" {
		missing = append(missing, "LLM_BASE_URL")
	}
	if c.LLM.APIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if c.ImageEnabled() {
		if c.Image.Model == "" {
			missing = append(missing, "IMAGE_MODEL")
		}
		if c.Image.BaseURL == "" {
			missing = append(missing, "IMAGE_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing configuration: %s (run with --config for help)", strings.Join(missing, ", "))
	}
	return nil
}

// ImageEnabled reports whether covers can be generated.
func (c Config) ImageEnabled() bool { return c.Image.APIKey != "" }

// SearchEnabled reports whether body generation should use web research.
func (c Config) SearchEnabled() bool { return c.Search.Enabled && c.Search.APIKey != "" }

func (c Config) LLMSettings() *generator.LLMSettings {
	return &generator.LLMSettings{Model: c.LLM.Model, APIKey: c.LLM.APIKey, BaseURL: c.LLM.BaseURL}
}

func (c Config) ImageSettings() *generator.ImageSettings {
	return &generator.ImageSettings{Model: c.Image.Model, APIKey: c.Image.APIKey, BaseURL: c.Image.BaseURL}
}

// PostsDir is the root of session directories.
func (c Config) PostsDir() string { return filepath.Join(c.DataDir, "posts") }

// Help describes every setting and a few known-good backends.
func Help() string {
	rule := strings.Repeat("=", 60)
	var sb strings.Builder
	sb.WriteString(rule + "\n")
	sb.WriteString("AutoXHS 配置说明\n")
	sb.WriteString(rule + "\n\n")
	sb.WriteString("环境变量配置（可写在 .env 文件中）：\n")
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	sb.WriteString("  LLM 配置:\n")
	sb.WriteString("    LLM_MODEL       - 模型名称\n")
	sb.WriteString("    LLM_BASE_URL    - API 地址\n")
	sb.WriteString("    LLM_API_KEY     - API Key\n\n")
	sb.WriteString("  图片生成配置:\n")
	sb.WriteString("    IMAGE_MODEL     - 模型名称\n")
	sb.WriteString("    IMAGE_BASE_URL  - API 地址\n")
	sb.WriteString("    IMAGE_API_KEY   - API Key（留空则不生成封面）\n")
	sb.WriteString("    IMAGE_SIZE      - 图片尺寸（默认 1024x1024）\n\n")
	sb.WriteString("  联网搜索配置:\n")
	sb.WriteString("    SEARCH_API_KEY  - Tavily API Key（可选）\n")
	sb.WriteString("    SEARCH_ENABLED  - 是否启用搜索（默认 true）\n\n")
	sb.WriteString("  发布配置:\n")
	sb.WriteString("    XHS_COOKIE      - 小红书 Cookie（可选，跳过登录）\n")
	sb.WriteString("    XHS_BASE_URL    - 发布网关地址\n")
	sb.WriteString("    XHS_COOKIE_FILE - 登录 Cookie 保存位置（默认 data/.xhs_cookie.json）\n\n")
	sb.WriteString("  其他配置:\n")
	sb.WriteString("    CATEGORY        - 内容类别（默认 auto，可选: ")
	keys := make([]string, 0, len(generator.Categories()))
	for _, c := range generator.Categories() {
		keys = append(keys, string(c))
	}
	sb.WriteString(strings.Join(keys, ", ") + "）\n")
	sb.WriteString("    TITLE_COUNT     - 每批候选标题数量（默认 10）\n")
	sb.WriteString("    DATA_DIR        - 数据目录（默认 data）\n")
	sb.WriteString("    PROMPT_DIR      - 自定义提示词目录（<category>.md）\n")
	sb.WriteString("    SERVER_ADDR     - --serve 监听地址（默认 :8080）\n\n")
	sb.WriteString("常用 LLM 配置示例：\n")
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	for _, ex := range [][2]string{
		{"DeepSeek", "MODEL=deepseek-chat      BASE_URL=https://api.deepseek.com"},
		{"OpenAI", "MODEL=gpt-4o             BASE_URL=https://api.openai.com/v1"},
		{"智谱", "MODEL=glm-4-plus         BASE_URL=https://open.bigmodel.cn/api/paas/v4"},
		{"通义千问", "MODEL=qwen-max           BASE_URL=https://dashscope.aliyuncs.com/compatible-mode/v1"},
		{"Moonshot", "MODEL=moonshot-v1-8k     BASE_URL=https://api.moonshot.cn/v1"},
		{"豆包", "MODEL=doubao-pro-32k     BASE_URL=https://ark.cn-beijing.volces.com/api/v3"},
	} {
		sb.WriteString(fmt.Sprintf("  %-10s %s\n", ex[0]+":", ex[1]))
	}
	sb.WriteString("\n常用图片生成配置示例：\n")
	sb.WriteString(strings.Repeat("-", 40) + "\n")
	for _, ex := range [][2]string{
		{"智谱 CogView", "MODEL=cogview-3-plus   BASE_URL=https://open.bigmodel.cn/api/paas/v4"},
		{"通义万相", "MODEL=wanx-v1          BASE_URL=https://dashscope.aliyuncs.com/compatible-mode/v1"},
		{"硅基流动", "MODEL=FLUX.1-schnell   BASE_URL=https://api.siliconflow.cn/v1"},
	} {
		sb.WriteString(fmt.Sprintf("  %-14s %s\n", ex[0]+":", ex[1]))
	}
	sb.WriteString(rule + "\n")
	return sb.String()
}
