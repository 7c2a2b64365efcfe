package apperr

import (
	"errors"
	"fmt"
)

// Kind 区分错误类别，决定编排器是自动重试还是交给人工决定。
type Kind int

const (
	KindUnknown Kind = iota
	KindAuth
	KindRateLimit
	KindTimeout
	KindProvider
	KindImageGeneration
	KindPublish
	KindNetwork
	KindValidation
)

var kindNames = map[Kind]string{
	KindUnknown:         "unknown",
	KindAuth:            "auth",
	KindRateLimit:       "rate limit",
	KindTimeout:         "timeout",
	KindProvider:        "provider",
	KindImageGeneration: "image generation",
	KindPublish:         "publish",
	KindNetwork:         "network",
	KindValidation:      "validation",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error 带类别的错误，Op 记录出错的操作名。
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s error: %v", e.Op, e.Kind, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s error", e.Op, e.Kind)
	default:
		return e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare sentinels below by kind, so errors.Is(err, apperr.ErrAuth) works on any wrapped *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Err != nil {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrAuth            = &Error{Kind: KindAuth}
	ErrRateLimit       = &Error{Kind: KindRateLimit}
	ErrTimeout         = &Error{Kind: KindTimeout}
	ErrProvider        = &Error{Kind: KindProvider}
	ErrImageGeneration = &Error{Kind: KindImageGeneration}
	ErrPublish         = &Error{Kind: KindPublish}
	ErrNetwork         = &Error{Kind: KindNetwork}
	ErrValidation      = &Error{Kind: KindValidation}
)

// E wraps err with a kind. A nil err yields a bare error carrying only kind and op.
func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf is E with a formatted cause.
func Errorf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf 返回链上最外层 *Error 的类别。
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether err may be retried automatically with unchanged inputs.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTimeout:
		return true
	default:
		return false
	}
}
