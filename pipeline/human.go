package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Human answers checkpoint requests. A terminal, a web form or a test
// script can sit behind it; the orchestrator blocks on Respond.
type Human interface {
	Respond(ctx context.Context, req Request) (string, error)
}

// Request is one checkpoint question.
type Request struct {
	Stage  State
	Title  string
	Detail string
	Prompt string
	Domain Domain
	// Problem explains why the previous answer was rejected.
	Problem string
}

// Domain validates and normalises a raw answer.
type Domain interface {
	Accept(raw string) (string, error)
	Describe() string
}

// Choice is one accepted keyword.
type Choice struct {
	Key     string
	Label   string
	Aliases []string
}

// Options accepts one of a fixed set of keywords. Empty input maps to
// Default when it is set.
type Options struct {
	Choices []Choice
	Default string
}

func (o Options) Accept(raw string) (string, error) {
	in := strings.ToLower(strings.TrimSpace(raw))
	if in == "" && o.Default != "" {
		return o.Default, nil
	}
	for _, c := range o.Choices {
		if in == strings.ToLower(c.Key) {
			return c.Key, nil
		}
		for _, a := range c.Aliases {
			if in == strings.ToLower(a) {
				return c.Key, nil
			}
		}
	}
	return "", fmt.Errorf("请输入 %s", o.Describe())
}

func (o Options) Describe() string {
	parts := make([]string, 0, len(o.Choices))
	for _, c := range o.Choices {
		label := c.Key
		if c.Label != "" {
			label += "=" + c.Label
		}
		if c.Key == o.Default {
			label += "(默认)"
		}
		parts = append(parts, label)
	}
	return strings.Join(parts, " / ")
}

// Index accepts a number in [1, Max] or one of Extra's keywords.
type Index struct {
	Max   int
	Extra Options
}

func (d Index) Accept(raw string) (string, error) {
	in := strings.TrimSpace(raw)
	if n, err := strconv.Atoi(in); err == nil {
		if n < 1 || n > d.Max {
			return "", fmt.Errorf("序号超出范围 1-%d", d.Max)
		}
		return strconv.Itoa(n), nil
	}
	if len(d.Extra.Choices) > 0 {
		if key, err := d.Extra.Accept(in); err == nil {
			return key, nil
		}
	}
	return "", fmt.Errorf("请输入 %s", d.Describe())
}

func (d Index) Describe() string {
	s := fmt.Sprintf("1-%d", d.Max)
	if len(d.Extra.Choices) > 0 {
		s += " / " + d.Extra.Describe()
	}
	return s
}

// Text accepts free text matching Pattern (any non-empty text when nil),
// or one of Extra's keywords.
type Text struct {
	Pattern *regexp.Regexp
	Hint    string
	Extra   Options
}

func (d Text) Accept(raw string) (string, error) {
	in := strings.TrimSpace(raw)
	if len(d.Extra.Choices) > 0 {
		if key, err := d.Extra.Accept(in); err == nil {
			return key, nil
		}
	}
	if in == "" {
		return "", fmt.Errorf("输入不能为空")
	}
	if d.Pattern != nil && !d.Pattern.MatchString(in) {
		return "", fmt.Errorf("格式不正确，%s", d.Describe())
	}
	return in, nil
}

func (d Text) Describe() string {
	s := d.Hint
	if s == "" {
		s = "文本"
	}
	if len(d.Extra.Choices) > 0 {
		s += " / " + d.Extra.Describe()
	}
	return s
}

// quitWords abort the session at any checkpoint.
var quitWords = map[string]bool{"q": true, "quit": true, "退出": true}

func isQuit(raw string) bool {
	return quitWords[strings.ToLower(strings.TrimSpace(raw))]
}
