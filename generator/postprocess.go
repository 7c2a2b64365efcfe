package generator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

const maxTags = 5

var (
	fenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	listMarkRe  = regexp.MustCompile(`^\s*(?:\d+\s*[.、)）]|[-*•])\s*`)
	inlineTagRe = regexp.MustCompile(`#([^\s#]+?)(?:\[话题\]#?)?(?:\s|$)`)
	blankRunRe  = regexp.MustCompile(`\n{3,}`)
)

// extractJSON 去掉代码块围栏，截取第一个 JSON 值。
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if m := fenceRe.FindStringSubmatch(s); len(m) == 2 {
		s = strings.TrimSpace(m[1])
	}
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return ""
	}
	return s[start : end+1]
}

// parseTitles accepts {"titles": [...]}, a bare JSON array, or one title per line.
func parseTitles(raw string) []string {
	var items []string
	if js := extractJSON(raw); js != "" {
		var obj struct {
			Titles []string `json:"titles"`
			Alt    []string `json:"标题列表"`
		}
		if err := json.Unmarshal([]byte(js), &obj); err == nil {
			items = append(obj.Titles, obj.Alt...)
		} else {
			_ = json.Unmarshal([]byte(js), &items)
		}
	}
	if len(items) == 0 {
		items = strings.Split(raw, "\n")
	}

	out := make([]string, 0, len(items))
	for _, item := range items {
		if t := cleanTitle(item); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func cleanTitle(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		return ""
	}
	s = listMarkRe.ReplaceAllString(s, "")
	s = strings.Trim(s, "\"'“”‘’「」 ")
	s = strings.ReplaceAll(s, "*", "")
	s = strings.TrimLeft(s, "# ")
	return strings.TrimSpace(s)
}

// dedupe keeps first occurrences in order.
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

// parseBody 解析 {"body": ..., "tags": ...}；兼容原有中文字段名，非 JSON 时整体视为正文并提取行内 #标签。
func parseBody(raw string) (Body, error) {
	md := strings.TrimSpace(raw)
	if md == "" {
		return Body{}, errors.New("model returned empty body")
	}

	var content string
	var tags []string
	if js := extractJSON(md); js != "" && js[0] == '{' {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(js), &obj); err == nil {
			content = rawString(obj, "body", "正文", "content")
			tags = rawTags(obj, "tags", "Tags", "标签")
		}
	}
	if content == "" {
		content = md
	}
	if len(tags) == 0 {
		for _, m := range inlineTagRe.FindAllStringSubmatch(content, -1) {
			tags = append(tags, m[1])
		}
		content = strings.TrimSpace(inlineTagRe.ReplaceAllString(content, " "))
	}

	flat, err := FlattenMarkdown(content)
	if err != nil {
		return Body{}, err
	}
	if flat == "" {
		return Body{}, errors.New("model returned empty body")
	}
	return Body{Text: flat, Tags: NormalizeTags(tags)}, nil
}

func rawString(obj map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

func rawTags(obj map[string]json.RawMessage, keys ...string) []string {
	for _, k := range keys {
		v, ok := obj[k]
		if !ok {
			continue
		}
		var list []string
		if err := json.Unmarshal(v, &list); err == nil {
			return list
		}
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			return []string{s}
		}
	}
	return nil
}

// NormalizeTags splits on Chinese/ASCII separators, strips '#' and topic suffixes, dedupes and caps the list.
func NormalizeTags(in []string) []string {
	var parts []string
	for _, t := range in {
		t = strings.NewReplacer("，", ",", "、", ",", "；", ",", ";", ",", "[话题]", "").Replace(t)
		for _, p := range strings.Split(t, ",") {
			parts = append(parts, strings.Fields(p)...)
		}
	}
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "#\"' ")
		if p != "" {
			out = append(out, p)
		}
	}
	out = dedupe(out)
	if len(out) > maxTags {
		out = out[:maxTags]
	}
	return out
}

// FlattenMarkdown renders model markdown as plain note text: headings become lines,
// list items get "•"/"n." prefixes, emphasis and code markers disappear.
func FlattenMarkdown(md string) (string, error) {
	src := []byte(md)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.URL(src))
			}
		case *ast.ListItem:
			if entering {
				buf.WriteString(listPrefix(node))
			}
		case *ast.Paragraph, *ast.Heading:
			if !entering {
				buf.WriteString("\n\n")
			}
		case *ast.TextBlock, *ast.List:
			if !entering {
				buf.WriteString("\n")
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
				buf.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil
		case *ast.ThematicBreak:
			if entering {
				buf.WriteString("\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", fmt.Errorf("flatten markdown: %w", err)
	}

	out := blankRunRe.ReplaceAllString(buf.String(), "\n\n")
	lines := strings.Split(out, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func listPrefix(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "• "
	}
	idx := list.Start
	for s := item.PreviousSibling(); s != nil; s = s.PreviousSibling() {
		idx++
	}
	return fmt.Sprintf("%d. ", idx)
}

// summarize collapses whitespace and keeps at most limit runes.
func summarize(s string, limit int) string {
	joined := strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(joined) <= limit {
		return joined
	}
	r := []rune(joined)
	return string(r[:limit])
}
