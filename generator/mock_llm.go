package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"strconv"
	"strings"
)

// MockLLM 一个简单的占位实现，便于本地调试，不调用外部模型。
// 按提示词类型返回格式正确的分类/标题/正文。
type MockLLM struct{}

var countRe = regexp.MustCompile(`生成 (\d+) 个`)

func (m MockLLM) Complete(_ context.Context, prompt Prompt) (string, error) {
	theme := strings.TrimSpace(strings.SplitN(strings.TrimPrefix(prompt.User, "主题："), "\n", 2)[0])

	switch {
	case strings.Contains(prompt.System, "分类专家"):
		return mockCategory(theme).Label(), nil
	case strings.Contains(prompt.System, `"titles"`):
		n := 10
		if mm := countRe.FindStringSubmatch(prompt.User); len(mm) == 2 {
			n, _ = strconv.Atoi(mm[1])
		}
		titles := make([]string, n)
		for i := range titles {
			titles[i] = fmt.Sprintf("%s｜第%d种打开方式✨", theme, i+1)
		}
		out, _ := json.Marshal(map[string][]string{"titles": titles})
		return string(out), nil
	default:
		var sb strings.Builder
		sb.WriteString("姐妹们！今天来分享一下「" + theme + "」🌟\n\n")
		sb.WriteString("这是一段自动生成的示例正文，用来在本地走通完整流程。\n\n")
		sb.WriteString("- 亮点一：细节满满\n- 亮点二：性价比高\n\n")
		sb.WriteString("你们还有什么想看的？评论区告诉我～")
		out, _ := json.Marshal(map[string]any{
			"body": sb.String(),
			"tags": []string{theme, "生活记录", "分享"},
		})
		return string(out), nil
	}
}

func mockCategory(theme string) Category {
	keywords := map[Category][]string{
		CategoryFood:   {"美食", "探店", "餐厅", "好吃"},
		CategoryTravel: {"旅行", "旅游", "攻略", "出游"},
		CategoryPet:    {"猫", "狗", "宠物"},
		CategoryBeauty: {"护肤", "化妆", "美妆"},
	}
	for _, c := range []Category{CategoryFood, CategoryTravel, CategoryPet, CategoryBeauty} {
		for _, kw := range keywords[c] {
			if strings.Contains(theme, kw) {
				return c
			}
		}
	}
	return CategoryGeneral
}

// MockImage renders a flat PNG whose colour depends on the prompt.
type MockImage struct{}

func (MockImage) Generate(_ context.Context, prompt, _ string) ([]byte, error) {
	h := fnv.New32a()
	_, _ = h.Write([]byte(prompt))
	sum := h.Sum32()
	fill := color.RGBA{R: uint8(sum), G: uint8(sum >> 8), B: uint8(sum >> 16), A: 255}

	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
