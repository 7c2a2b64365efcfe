package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"auto_xhs_publisher/generator"
	"auto_xhs_publisher/publisher"
)

// KeyLayout is the timestamp format used for session directory names.
const KeyLayout = "2006-01-02T15-04-05"

const (
	recordFile = "record.json"
	draftFile  = "draft.json"
	coverBase  = "cover"
)

var (
	ErrRecordExists = errors.New("store: record already written")
	ErrNotFound     = errors.New("store: session not found")
)

// Record 是一次成功发布后的最终回执，只写一次。
type Record struct {
	Key        string                `json:"key"`
	CreatedAt  time.Time             `json:"created_at"`
	Theme      string                `json:"theme"`
	Category   string                `json:"category"`
	Draft      generator.Draft       `json:"draft"`
	Image      *generator.ImageAsset `json:"image,omitempty"`
	Visibility publisher.Visibility  `json:"visibility"`
	Outcome    publisher.Outcome     `json:"outcome"`
}

// Snapshot is the in-progress state kept in draft.json so an interrupted
// session can be inspected or picked up by hand.
type Snapshot struct {
	Key       string                `json:"key"`
	Theme     string                `json:"theme"`
	Category  string                `json:"category"`
	State     string                `json:"state"`
	Titles    []string              `json:"titles,omitempty"`
	Draft     generator.Draft       `json:"draft"`
	Image     *generator.ImageAsset `json:"image,omitempty"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// Summary is one row of the post history.
type Summary struct {
	Key        string               `json:"key"`
	CreatedAt  time.Time            `json:"created_at"`
	Title      string               `json:"title"`
	Published  bool                 `json:"published"`
	Visibility publisher.Visibility `json:"visibility,omitempty"`
	HasCover   bool                 `json:"has_cover"`
}

// Store manages session directories under root (data/posts).
type Store struct {
	root string
	now  func() time.Time
}

// Option customizes a Store during construction.
type Option func(*Store)

// WithClock overrides the clock used for session keys and snapshots.
func WithClock(clock func() time.Time) Option {
	return func(s *Store) {
		s.now = clock
	}
}

func New(root string, opts ...Option) *Store {
	s := &Store{root: root, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create makes a fresh session directory keyed by the current time. When the
// key is taken a short random suffix is appended; existing directories are
// never reused.
func (s *Store) Create() (*SessionDir, error) {
	if err := os.MkdirAll(s.root, 0o755); err != nil {
		return nil, err
	}
	created := s.now()
	base := created.Format(KeyLayout)
	key := base
	for i := 0; i < 5; i++ {
		path := filepath.Join(s.root, key)
		err := os.Mkdir(path, 0o755)
		if err == nil {
			return &SessionDir{Key: key, Path: path, CreatedAt: created, now: s.now}, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, err
		}
		key = base + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	return nil, fmt.Errorf("store: could not allocate a session directory for %s", base)
}

// Open returns an existing session directory.
func (s *Store) Open(key string) (*SessionDir, error) {
	if !validKey(key) {
		return nil, ErrNotFound
	}
	path := filepath.Join(s.root, key)
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && !info.IsDir()) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	created, perr := time.ParseInLocation(KeyLayout, key[:min(len(key), len(KeyLayout))], time.Local)
	if perr != nil {
		created = info.ModTime()
	}
	return &SessionDir{Key: key, Path: path, CreatedAt: created, now: s.now}, nil
}

// List returns every session, newest first.
func (s *Store) List() ([]Summary, error) {
	entries, err := os.ReadDir(s.root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []Summary
	for _, e := range entries {
		if !e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		dir, err := s.Open(e.Name())
		if err != nil {
			continue
		}
		out = append(out, dir.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key > out[j].Key })
	return out, nil
}

func validKey(key string) bool {
	return key != "" && key != "." && key != ".." && filepath.Base(key) == key && !strings.ContainsAny(key, `/\`)
}

// SessionDir is owned by exactly one running session.
type SessionDir struct {
	Key       string
	Path      string
	CreatedAt time.Time
	now       func() time.Time
}

// WriteCover stores the image as cover.<ext>. The bytes go to a temp file
// first and replace the previous cover only once fully written.
func (d *SessionDir) WriteCover(data []byte, ext string) (string, error) {
	ext = strings.TrimPrefix(strings.ToLower(ext), ".")
	if ext == "" {
		ext = "png"
	}
	if len(data) == 0 {
		return "", errors.New("store: empty cover image")
	}
	dst := filepath.Join(d.Path, coverBase+"."+ext)
	if err := writeAtomic(d.Path, dst, data); err != nil {
		return "", fmt.Errorf("store: write cover: %w", err)
	}
	return dst, nil
}

// WriteDraft replaces draft.json with the current snapshot.
func (d *SessionDir) WriteDraft(snap Snapshot) error {
	snap.Key = d.Key
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = d.now()
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(d.Path, filepath.Join(d.Path, draftFile), data)
}

// WriteRecord writes record.json once; a second call returns ErrRecordExists.
func (d *SessionDir) WriteRecord(rec Record) error {
	rec.Key = d.Key
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = d.CreatedAt
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(d.Path, recordFile), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return ErrRecordExists
	}
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (d *SessionDir) ReadRecord() (Record, error) {
	var rec Record
	err := readJSON(filepath.Join(d.Path, recordFile), &rec)
	return rec, err
}

func (d *SessionDir) ReadDraft() (Snapshot, error) {
	var snap Snapshot
	err := readJSON(filepath.Join(d.Path, draftFile), &snap)
	return snap, err
}

// CoverPath returns the cover that went out with the note. Before publishing
// it is the newest cover.* file; a published note without an image has none.
func (d *SessionDir) CoverPath() (string, error) {
	rec, err := d.ReadRecord()
	switch {
	case err == nil:
		return d.recordCover(rec)
	case !errors.Is(err, ErrNotFound):
		return "", err
	}
	return d.latestCover()
}

// recordCover 只在会话目录内查找，record.json 里的路径可能来自别的机器
func (d *SessionDir) recordCover(rec Record) (string, error) {
	if rec.Image == nil || rec.Image.Path == "" {
		return "", ErrNotFound
	}
	path := filepath.Join(d.Path, filepath.Base(rec.Image.Path))
	if info, err := os.Stat(path); err != nil || info.IsDir() {
		return "", ErrNotFound
	}
	return path, nil
}

func (d *SessionDir) latestCover() (string, error) {
	matches, err := filepath.Glob(filepath.Join(d.Path, coverBase+".*"))
	if err != nil {
		return "", err
	}
	var best string
	var bestMod time.Time
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil || info.IsDir() {
			continue
		}
		if best == "" || info.ModTime().After(bestMod) {
			best, bestMod = m, info.ModTime()
		}
	}
	if best == "" {
		return "", ErrNotFound
	}
	return best, nil
}

// Summary prefers record.json and falls back to draft.json.
func (d *SessionDir) Summary() Summary {
	sum := Summary{Key: d.Key, CreatedAt: d.CreatedAt}
	if rec, err := d.ReadRecord(); err == nil {
		sum.Title = rec.Draft.Title
		sum.Published = true
		sum.Visibility = rec.Visibility
		_, cerr := d.recordCover(rec)
		sum.HasCover = cerr == nil
		return sum
	}
	if snap, err := d.ReadDraft(); err == nil {
		sum.Title = snap.Draft.Title
	}
	_, cerr := d.latestCover()
	sum.HasCover = cerr == nil
	return sum
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeAtomic(dir, dst string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, dst)
}
