package generator

import (
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

//go:embed prompts/*.md
var embeddedPrompts embed.FS

// Prompt 表示发送给 LLM 的消息集合。
type Prompt struct {
	System      string
	User        string
	History     []Message
	Temperature *float64
	MaxTokens   int
}

// Message 用于少量历史（可选）。
type Message struct {
	Role    string
	Content string
}

// PromptSet 按类别加载系统提示词；dir 下的 <category>.md 优先于内置模板。
type PromptSet struct {
	dir string
}

func NewPromptSet(dir string) *PromptSet {
	return &PromptSet{dir: dir}
}

// System returns the system prompt for c.
func (p *PromptSet) System(c Category) string {
	name := string(c) + ".md"
	if p != nil && p.dir != "" {
		if data, err := os.ReadFile(filepath.Join(p.dir, name)); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	if data, err := embeddedPrompts.ReadFile("prompts/" + name); err == nil {
		return strings.TrimSpace(string(data))
	}
	data, _ := embeddedPrompts.ReadFile("prompts/default.md")
	return strings.TrimSpace(string(data))
}

// BuildCategoryPrompt 生成分类提示词，只允许返回固定类别名。
func BuildCategoryPrompt(theme string) Prompt {
	var sb strings.Builder
	sb.WriteString("你是一个分类专家。根据用户输入的主题，选择最匹配的类别。\n\n可选类别：\n")
	for _, info := range categoryInfos {
		sb.WriteString(fmt.Sprintf("- %s: %s\n", info.label, info.desc))
	}
	sb.WriteString(fmt.Sprintf("\n只返回类别名称（中文），不要其他内容。如果都不匹配，返回\"%s\"。", generalLabel))

	return Prompt{
		System:      sb.String(),
		User:        fmt.Sprintf("主题：%s", theme),
		Temperature: floatPtr(0),
		MaxTokens:   32,
	}
}

// BuildTitlesPrompt 生成一批候选标题。
func BuildTitlesPrompt(system, theme string, c Category, count int) Prompt {
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("当前类别：%s（%s）。\n", c.Label(), c.Description()))
	sb.WriteString("输出格式：只输出一个 JSON 对象，形如 {\"titles\": [\"标题1\", \"标题2\"]}，不要额外解释。\n")

	user := fmt.Sprintf("主题：%s\n请生成 %d 个互不相同的小红书标题。", theme, count)
	return Prompt{System: sb.String(), User: user}
}

// BuildBodyPrompt 根据选定标题生成正文和标签；research 为空时只依据主题创作。
func BuildBodyPrompt(system, theme string, c Category, title, research string) Prompt {
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("当前类别：%s（%s）。\n", c.Label(), c.Description()))
	sb.WriteString(bodyFormatRule)

	var user strings.Builder
	user.WriteString(fmt.Sprintf("主题：%s\n请根据这个标题创作完整的小红书笔记：%s", theme, title))
	if research != "" {
		user.WriteString("\n\n")
		user.WriteString(research)
		user.WriteString("\n\n【创作要求】\n")
		user.WriteString("1. 必须基于上述搜索结果中的真实信息创作，店铺名称、地址、价格以搜索结果为准。\n")
		user.WriteString("2. 不要虚构任何店铺、地址、价格或评价。\n")
		user.WriteString("3. 搜索结果信息不足时可以合理扩展，但核心数据必须真实。")
	}
	return Prompt{System: sb.String(), User: user.String()}
}

// BuildRefinePrompt 生成修订提示词，保留标题，只按建议修改正文和标签。
func BuildRefinePrompt(system, theme string, c Category, prev Draft, suggestion string) Prompt {
	var sb strings.Builder
	sb.WriteString(system)
	sb.WriteString("\n\n")
	sb.WriteString("你同时是一名专业编辑，基于用户反馈对笔记做最小必要改动，标题保持不变。\n")
	sb.WriteString(fmt.Sprintf("当前类别：%s（%s）。\n", c.Label(), c.Description()))
	sb.WriteString(bodyFormatRule)

	user := fmt.Sprintf("主题：%s\n标题：%s\n\n当前正文：\n%s\n\n当前标签：%s\n\n用户反馈：%s\n请输出修订后的完整笔记。",
		theme, prev.Title, prev.Body, strings.Join(prev.Tags, ","), suggestion)

	return Prompt{
		System:  sb.String(),
		User:    user,
		History: []Message{{Role: "user", Content: "请根据这个标题创作完整的小红书笔记：" + prev.Title}, {Role: "assistant", Content: prev.Body}},
	}
}

const bodyFormatRule = "输出格式：只输出一个 JSON 对象，形如 {\"body\": \"正文\", \"tags\": [\"标签1\", \"标签2\", \"标签3\"]}，标签 3 个，不带 # 号，不要额外解释。\n"

// samplingTemperature 让重新生成的结果有变化；attempt 只影响采样。
func samplingTemperature(attempt int) *float64 {
	t := DefaultTemperature + 0.1*float64(attempt)
	if t > 1.2 {
		t = 1.2
	}
	return floatPtr(t)
}

func floatPtr(v float64) *float64 { return &v }
