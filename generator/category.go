package generator

import (
	"fmt"
	"strings"
)

// Category is one of the fixed note categories.
type Category string

const (
	CategoryAuto           Category = "auto"
	CategoryFood           Category = "food"
	CategoryTravel         Category = "travel"
	CategoryFashion        Category = "fashion"
	CategoryBeauty         Category = "beauty"
	CategoryHealth         Category = "health"
	CategoryStudy          Category = "study"
	CategoryHome           Category = "home"
	CategoryMood           Category = "mood"
	CategoryPet            Category = "pet"
	CategorySecondhand     Category = "secondhand"
	CategoryRecommendation Category = "recommendation"
	CategoryGeneral        Category = "general"
)

type categoryInfo struct {
	key   Category
	label string
	desc  string
}

// 顺序即分类提示词中的展示顺序。
var categoryInfos = []categoryInfo{
	{CategoryFood, "美食分享", "美食体验、餐厅推荐、美食制作教程"},
	{CategoryTravel, "旅行攻略", "旅行日记、目的地推荐、行程规划"},
	{CategoryFashion, "时尚穿搭", "日常穿搭、服饰搭配、时尚趋势"},
	{CategoryBeauty, "美妆护肤", "化妆技巧、护肤品评测、美妆心得"},
	{CategoryHealth, "健康生活", "健康饮食、运动健身、生活习惯"},
	{CategoryStudy, "学习提升", "语言学习、职场技能、个人成长"},
	{CategoryHome, "家居生活", "家居装饰、生活技巧、家电推荐"},
	{CategoryMood, "心情日记", "情感体验、生活随笔、个人感悟"},
	{CategoryPet, "宠物天地", "宠物护理、宠物趣事分享"},
	{CategorySecondhand, "二手交易", "二手物品买卖交流"},
	{CategoryRecommendation, "产品推荐", "产品评测、优惠信息、购买建议"},
}

const generalLabel = "默认"

// Categories returns the enumerated set, without auto and general.
func Categories() []Category {
	out := make([]Category, 0, len(categoryInfos))
	for _, c := range categoryInfos {
		out = append(out, c.key)
	}
	return out
}

// Label returns the Chinese display name.
func (c Category) Label() string {
	for _, info := range categoryInfos {
		if info.key == c {
			return info.label
		}
	}
	if c == CategoryGeneral {
		return generalLabel
	}
	return string(c)
}

// Description returns the short Chinese description used in prompts.
func (c Category) Description() string {
	for _, info := range categoryInfos {
		if info.key == c {
			return info.desc
		}
	}
	return "日常生活分享"
}

// Known reports whether c belongs to the fixed set (general included, auto excluded).
func (c Category) Known() bool {
	if c == CategoryGeneral {
		return true
	}
	for _, info := range categoryInfos {
		if info.key == c {
			return true
		}
	}
	return false
}

// ParseCategory accepts an English key, a Chinese label or "auto".
func ParseCategory(raw string) (Category, error) {
	s := strings.TrimSpace(raw)
	if s == "" || strings.EqualFold(s, string(CategoryAuto)) {
		return CategoryAuto, nil
	}
	if c, ok := matchCategory(s); ok {
		return c, nil
	}
	return "", fmt.Errorf("unknown category %q", raw)
}

// matchCategory 识别中文名或英文 key，大小写不敏感。
func matchCategory(s string) (Category, bool) {
	s = strings.TrimSpace(s)
	if s == generalLabel || strings.EqualFold(s, string(CategoryGeneral)) {
		return CategoryGeneral, true
	}
	for _, info := range categoryInfos {
		if s == info.label || strings.EqualFold(s, string(info.key)) {
			return info.key, true
		}
	}
	return "", false
}
