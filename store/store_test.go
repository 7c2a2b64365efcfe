package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"auto_xhs_publisher/generator"
	"auto_xhs_publisher/publisher"
)

func fixedClock() func() time.Time {
	t := time.Date(2025, 3, 8, 14, 30, 5, 0, time.Local)
	return func() time.Time { return t }
}

func TestCreateAddsSuffixOnCollision(t *testing.T) {
	s := New(t.TempDir(), WithClock(fixedClock()))
	first, err := s.Create()
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if first.Key != "2025-03-08T14-30-05" {
		t.Fatalf("key = %q", first.Key)
	}
	second, err := s.Create()
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if second.Key == first.Key || !strings.HasPrefix(second.Key, first.Key+"-") {
		t.Fatalf("collision key = %q", second.Key)
	}
	if len(second.Key) != len(first.Key)+9 {
		t.Errorf("suffix should be 8 chars: %q", second.Key)
	}
}

func TestWriteRecordOnce(t *testing.T) {
	s := New(t.TempDir(), WithClock(fixedClock()))
	dir, err := s.Create()
	if err != nil {
		t.Fatal(err)
	}
	rec := Record{
		Theme:      "周末探店美食分享",
		Category:   "food",
		Draft:      generator.Draft{Title: "标题", Body: "正文", Tags: []string{"美食", "探店"}},
		Image:      &generator.ImageAsset{Path: filepath.Join(dir.Path, "cover.png"), Prompt: "p"},
		Visibility: publisher.VisibilityPrivate,
		Outcome:    publisher.Outcome{NoteID: "n1", PublishedAt: time.Date(2025, 3, 8, 15, 0, 0, 0, time.UTC)},
	}
	if err := dir.WriteRecord(rec); err != nil {
		t.Fatalf("WriteRecord: %v", err)
	}
	if err := dir.WriteRecord(rec); !errors.Is(err, ErrRecordExists) {
		t.Fatalf("second write: %v", err)
	}

	got, err := dir.ReadRecord()
	if err != nil {
		t.Fatal(err)
	}
	if got.Key != dir.Key || !got.CreatedAt.Equal(dir.CreatedAt) {
		t.Errorf("key/created_at not filled: %+v", got)
	}
	if !reflect.DeepEqual(got.Draft, rec.Draft) || got.Visibility != rec.Visibility || *got.Image != *rec.Image {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.Outcome.PublishedAt.Equal(rec.Outcome.PublishedAt) {
		t.Errorf("published_at = %v", got.Outcome.PublishedAt)
	}
}

func TestWriteCoverReplacesAtomically(t *testing.T) {
	s := New(t.TempDir())
	dir, err := s.Create()
	if err != nil {
		t.Fatal(err)
	}
	path, err := dir.WriteCover([]byte("old"), "png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dir.WriteCover(nil, "png"); err == nil {
		t.Fatal("empty image should fail")
	}
	if data, _ := os.ReadFile(path); string(data) != "old" {
		t.Fatalf("failed write touched the old cover: %q", data)
	}
	if _, err := dir.WriteCover([]byte("new"), ".PNG"); err != nil {
		t.Fatal(err)
	}
	if data, _ := os.ReadFile(path); string(data) != "new" {
		t.Fatalf("cover = %q", data)
	}
	entries, _ := os.ReadDir(dir.Path)
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".tmp-") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestListAndSummary(t *testing.T) {
	root := t.TempDir()
	clock := time.Date(2025, 1, 1, 8, 0, 0, 0, time.Local)
	s := New(root, WithClock(func() time.Time { return clock }))

	draftOnly, err := s.Create()
	if err != nil {
		t.Fatal(err)
	}
	if err := draftOnly.WriteDraft(Snapshot{State: "TitleChosen", Draft: generator.Draft{Title: "草稿"}}); err != nil {
		t.Fatal(err)
	}

	clock = clock.Add(time.Hour)
	published, err := s.Create()
	if err != nil {
		t.Fatal(err)
	}
	cover, err := published.WriteCover([]byte("img"), "jpg")
	if err != nil {
		t.Fatal(err)
	}
	if err := published.WriteRecord(Record{
		Draft:      generator.Draft{Title: "已发布"},
		Image:      &generator.ImageAsset{Path: cover},
		Visibility: publisher.VisibilityPublic,
	}); err != nil {
		t.Fatal(err)
	}

	list, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %+v", list)
	}
	if list[0].Key != published.Key || !list[0].Published || !list[0].HasCover || list[0].Title != "已发布" {
		t.Errorf("newest = %+v", list[0])
	}
	if list[1].Published || list[1].Title != "草稿" {
		t.Errorf("draft = %+v", list[1])
	}
}

func TestSkippedCoverIsNotReported(t *testing.T) {
	s := New(t.TempDir())
	dir, err := s.Create()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := dir.WriteCover([]byte("rejected"), "png"); err != nil {
		t.Fatal(err)
	}
	if p, err := dir.CoverPath(); err != nil || filepath.Base(p) != "cover.png" {
		t.Fatalf("draft cover = %q, %v", p, err)
	}

	if err := dir.WriteRecord(Record{Draft: generator.Draft{Title: "无图发布"}, Visibility: publisher.VisibilityPrivate}); err != nil {
		t.Fatal(err)
	}
	if p, err := dir.CoverPath(); !errors.Is(err, ErrNotFound) {
		t.Errorf("CoverPath after publishing without image = %q, %v", p, err)
	}
	if sum := dir.Summary(); !sum.Published || sum.HasCover {
		t.Errorf("summary = %+v", sum)
	}
}

func TestOpenRejectsTraversal(t *testing.T) {
	s := New(t.TempDir())
	for _, key := range []string{"", "..", "../etc", "a/b"} {
		if _, err := s.Open(key); !errors.Is(err, ErrNotFound) {
			t.Errorf("Open(%q) = %v", key, err)
		}
	}
}

func TestListMissingRoot(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nope"))
	list, err := s.List()
	if err != nil || len(list) != 0 {
		t.Fatalf("List = %v, %v", list, err)
	}
}
