package publisher

import (
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// CookieFile persists the login cookie between runs (data/.xhs_cookie.json).
type CookieFile struct {
	Path string
}

type cookieDoc struct {
	Cookie string `json:"cookie"`
}

// Load returns "" without error when nothing has been saved yet.
func (f CookieFile) Load() (string, error) {
	if f.Path == "" {
		return "", nil
	}
	data, err := os.ReadFile(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var doc cookieDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return "", err
	}
	return doc.Cookie, nil
}

func (f CookieFile) Save(cookie string) error {
	if f.Path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(cookieDoc{Cookie: cookie})
	if err != nil {
		return err
	}
	return os.WriteFile(f.Path, data, 0o600)
}

func (f CookieFile) Clear() error {
	if f.Path == "" {
		return nil
	}
	err := os.Remove(f.Path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
