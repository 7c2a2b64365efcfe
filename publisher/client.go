package publisher

import (
	"context"
	"fmt"
	"strings"
	"time"

	"auto_xhs_publisher/generator"
)

// Visibility controls who can see the published note.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// ParseVisibility accepts private/public (and 私密/公开); empty means private.
func ParseVisibility(raw string) (Visibility, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "private", "私密":
		return VisibilityPrivate, nil
	case "public", "公开":
		return VisibilityPublic, nil
	default:
		return "", fmt.Errorf("unknown visibility %q", raw)
	}
}

// Credential 是发布平台的登录凭证，对调用方不透明。
// 零值表示"使用客户端自己保存的凭证"。
type Credential struct {
	value string
}

// NewCredential wraps an externally supplied cookie.
func NewCredential(cookie string) Credential {
	return Credential{value: strings.TrimSpace(cookie)}
}

// IsZero reports whether the credential carries no token of its own.
func (c Credential) IsZero() bool { return c.value == "" }

// Outcome is what the platform reports after a successful publish.
type Outcome struct {
	NoteID      string    `json:"note_id"`
	URL         string    `json:"url,omitempty"`
	Topics      []string  `json:"topics,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// Client 抽象发布平台：手机号验证码登录 + 发布图文笔记。
type Client interface {
	HasCredential() bool
	RequestVerificationCode(ctx context.Context, phone string) error
	Login(ctx context.Context, phone, code string) (Credential, error)
	Publish(ctx context.Context, draft generator.Draft, image *generator.ImageAsset, visibility Visibility, cred Credential) (Outcome, error)
}
