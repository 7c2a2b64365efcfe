package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"auto_xhs_publisher/apperr"
	"auto_xhs_publisher/generator"
	"auto_xhs_publisher/publisher"
	"auto_xhs_publisher/store"
)

// scriptHuman answers checkpoints from a fixed script and records every request.
type scriptHuman struct {
	answers  []string
	requests []Request
}

func (h *scriptHuman) Respond(_ context.Context, req Request) (string, error) {
	h.requests = append(h.requests, req)
	if len(h.answers) == 0 {
		return "", io.EOF
	}
	a := h.answers[0]
	h.answers = h.answers[1:]
	return a, nil
}

type fakePublisher struct {
	hasCred     bool
	validCode   string
	publishErrs []error

	sendCalls  int
	loginCalls int
	published  []generator.Draft
	images     []*generator.ImageAsset
	creds      []publisher.Credential
}

func (p *fakePublisher) HasCredential() bool { return p.hasCred }

func (p *fakePublisher) RequestVerificationCode(_ context.Context, phone string) error {
	p.sendCalls++
	if !strings.HasPrefix(phone, "1") {
		return apperr.Errorf(apperr.KindAuth, "fake.RequestVerificationCode", "bad phone %s", phone)
	}
	return nil
}

func (p *fakePublisher) Login(_ context.Context, phone, code string) (publisher.Credential, error) {
	p.loginCalls++
	if code != p.validCode {
		return publisher.Credential{}, apperr.Errorf(apperr.KindAuth, "fake.Login", "wrong code")
	}
	p.hasCred = true
	return publisher.NewCredential("session-" + phone), nil
}

func (p *fakePublisher) Publish(_ context.Context, d generator.Draft, img *generator.ImageAsset, _ publisher.Visibility, cred publisher.Credential) (publisher.Outcome, error) {
	p.creds = append(p.creds, cred)
	if len(p.publishErrs) > 0 {
		err := p.publishErrs[0]
		p.publishErrs = p.publishErrs[1:]
		if apperr.KindOf(err) == apperr.KindAuth {
			p.hasCred = false
		}
		return publisher.Outcome{}, err
	}
	p.published = append(p.published, d)
	p.images = append(p.images, img)
	return publisher.Outcome{NoteID: fmt.Sprintf("note-%d", len(p.published)), PublishedAt: time.Unix(1700000000, 0).UTC()}, nil
}

// fakeContent makes every batch depend on the attempt counter so
// regenerations are distinguishable.
type fakeContent struct {
	inferCalls  int
	titleErrs   []error
	refined     []string
	bodyCalls   int
	titleCounts []int
}

func (f *fakeContent) InferCategory(context.Context, string) (generator.Category, error) {
	f.inferCalls++
	return generator.CategoryFood, nil
}

func (f *fakeContent) GenerateTitles(_ context.Context, _ string, _ generator.Category, count, attempt int) ([]string, error) {
	f.titleCounts = append(f.titleCounts, count)
	if len(f.titleErrs) > 0 {
		err := f.titleErrs[0]
		f.titleErrs = f.titleErrs[1:]
		return nil, err
	}
	out := make([]string, count)
	for i := range out {
		out[i] = fmt.Sprintf("T%d-%d", attempt, i+1)
	}
	return out, nil
}

func (f *fakeContent) GenerateBody(_ context.Context, _ string, _ generator.Category, title string, attempt int) (generator.Body, error) {
	f.bodyCalls++
	return generator.Body{Text: fmt.Sprintf("B%d for %s", attempt, title), Tags: []string{fmt.Sprintf("tag%d", attempt)}}, nil
}

func (f *fakeContent) RefineBody(_ context.Context, _ string, _ generator.Category, prev generator.Draft, suggestion string, attempt int) (generator.Body, error) {
	f.refined = append(f.refined, suggestion)
	return generator.Body{Text: prev.Body + " / " + suggestion, Tags: []string{"refined"}}, nil
}

// flakyImage fails with the queued errors, then draws a mock cover.
type flakyImage struct {
	errs  []error
	calls int
}

func (f *flakyImage) Generate(ctx context.Context, prompt, size string) ([]byte, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return generator.MockImage{}.Generate(ctx, prompt+fmt.Sprint(f.calls), size)
}

type harness struct {
	orch  *Orchestrator
	human *scriptHuman
	pub   *fakePublisher
	store *store.Store
}

func newHarness(t *testing.T, content Content, img generator.ImageClient, pub *fakePublisher, opts RunOptions, answers ...string) *harness {
	t.Helper()
	h := &harness{
		human: &scriptHuman{answers: answers},
		pub:   pub,
		store: store.New(filepath.Join(t.TempDir(), "posts")),
	}
	var covers Covers
	if img != nil {
		g, err := generator.NewImageGenerator(img, "")
		if err != nil {
			t.Fatal(err)
		}
		covers = g
	}
	if opts.RetryPause == 0 {
		opts.RetryPause = -1
	}
	orch, err := New(Deps{
		Content:   content,
		Covers:    covers,
		Publisher: pub,
		Store:     h.store,
		Human:     h.human,
		Logger:    log.New(io.Discard, "", 0),
	}, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.orch = orch
	return h
}

func readRecord(t *testing.T, st *store.Store, key string) store.Record {
	t.Helper()
	dir, err := st.Open(key)
	if err != nil {
		t.Fatal(err)
	}
	rec, err := dir.ReadRecord()
	if err != nil {
		t.Fatalf("ReadRecord: %v", err)
	}
	return rec
}

func TestFoodScenarioEndToEnd(t *testing.T) {
	content, err := generator.NewContentGenerator(generator.MockLLM{}, generator.WithLogger(log.New(io.Discard, "", 0)))
	if err != nil {
		t.Fatal(err)
	}
	pub := &fakePublisher{validCode: "123456"}
	h := newHarness(t, content, generator.MockImage{}, pub, RunOptions{},
		"1",           // title
		"y",           // body
		"y",           // cover
		"13800138000", // phone
		"123456",      // code
		"",            // visibility: default private
		"y",           // confirm
	)

	s, err := h.orch.Run(context.Background(), "周末探店美食分享")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State != StatePublished {
		t.Fatalf("state = %s", s.State)
	}
	if s.Category != generator.CategoryFood {
		t.Errorf("category = %s", s.Category)
	}
	if len(s.Titles) != 10 {
		t.Fatalf("titles = %d", len(s.Titles))
	}
	seen := map[string]bool{}
	for _, title := range s.Titles {
		if seen[title] {
			t.Errorf("duplicate title %q", title)
		}
		seen[title] = true
	}
	if pub.loginCalls != 1 || pub.sendCalls != 1 {
		t.Errorf("login=%d send=%d", pub.loginCalls, pub.sendCalls)
	}

	rec := readRecord(t, h.store, s.Key)
	if rec.Draft.Title != s.Titles[0] || rec.Visibility != publisher.VisibilityPrivate {
		t.Errorf("record = %+v", rec)
	}
	if !reflect.DeepEqual(rec.Draft, pub.published[0]) {
		t.Errorf("record draft %+v differs from published %+v", rec.Draft, pub.published[0])
	}
	if rec.Image == nil {
		t.Fatal("record has no cover")
	}
	if _, err := os.Stat(rec.Image.Path); err != nil {
		t.Errorf("cover missing: %v", err)
	}

	want := []State{StateCategoryResolved, StateTitlesOffered, StateTitleChosen, StateBodyDrafted, StateBodyApproved,
		StateImageDrafted, StateImageApproved, StateAuthenticated, StateVisibilitySet, StatePublished}
	var got []State
	for _, tr := range s.Trail {
		got = append(got, tr.To)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("trail = %v", got)
	}
}

func TestImageProviderErrorThenSkip(t *testing.T) {
	img := &flakyImage{errs: []error{apperr.Errorf(apperr.KindProvider, "fake.Generate", "model overloaded")}}
	pub := &fakePublisher{hasCred: true}
	h := newHarness(t, &fakeContent{}, img, pub, RunOptions{}, "1", "y", "s", "", "y")

	s, err := h.orch.Run(context.Background(), "主题")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	var failure *Request
	for i := range h.human.requests {
		if h.human.requests[i].Title == "封面生成失败" {
			failure = &h.human.requests[i]
		}
	}
	if failure == nil || !strings.Contains(failure.Prompt, "s ") {
		t.Fatalf("no retry/skip checkpoint offered: %+v", h.human.requests)
	}
	if s.Image != nil || s.Visited(StateImageDrafted) {
		t.Errorf("image should have been skipped: %+v", s.Image)
	}
	if !s.Visited(StateAuthenticated) || pub.loginCalls != 0 {
		t.Errorf("login should be skipped with an existing credential")
	}
	rec := readRecord(t, h.store, s.Key)
	if rec.Image != nil || pub.images[0] != nil {
		t.Errorf("record image = %+v", rec.Image)
	}
}

func TestPublishAuthErrorReentersLogin(t *testing.T) {
	pub := &fakePublisher{
		hasCred:     true,
		validCode:   "123456",
		publishErrs: []error{apperr.Errorf(apperr.KindAuth, "fake.Publish", "cookie expired")},
	}
	h := newHarness(t, &fakeContent{}, generator.MockImage{}, pub, RunOptions{},
		"2", "y", "y", "public", "y", "13800138000", "123456")

	s, err := h.orch.Run(context.Background(), "主题")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pub.loginCalls != 1 || len(pub.creds) != 2 {
		t.Fatalf("login=%d publish attempts=%d", pub.loginCalls, len(pub.creds))
	}
	if !pub.creds[0].IsZero() || pub.creds[1].IsZero() {
		t.Errorf("second publish should carry the fresh credential: %+v", pub.creds)
	}
	relogin := false
	for _, tr := range s.Trail {
		if tr.From == StateVisibilitySet && tr.To == StateAuthenticated {
			relogin = true
		}
	}
	if !relogin {
		t.Error("no VisibilitySet -> Authenticated transition recorded")
	}
	rec := readRecord(t, h.store, s.Key)
	if rec.Draft.Title != "T0-2" || rec.Image == nil || rec.Visibility != publisher.VisibilityPublic {
		t.Errorf("approved content lost across re-login: %+v", rec)
	}
}

func TestAbortWritesNoRecord(t *testing.T) {
	cases := []struct {
		name    string
		answers []string
		at      State
	}{
		{"titles", []string{"q"}, StateTitlesOffered},
		{"body", []string{"1", "退出"}, StateBodyDrafted},
		{"cover", []string{"1", "y", "q"}, StateImageDrafted},
		{"phone", []string{"1", "y", "y", "q"}, StateImageApproved},
		{"code", []string{"1", "y", "y", "13800138000", "q"}, StateImageApproved},
		{"visibility", []string{"1", "y", "y", "13800138000", "123456", "q"}, StateAuthenticated},
		{"confirm", []string{"1", "y", "y", "13800138000", "123456", "", "q"}, StateVisibilitySet},
		{"input closed", []string{"1"}, StateBodyDrafted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pub := &fakePublisher{validCode: "123456"}
			h := newHarness(t, &fakeContent{}, generator.MockImage{}, pub, RunOptions{}, tc.answers...)
			s, err := h.orch.Run(context.Background(), "主题")
			if !errors.Is(err, ErrAborted) {
				t.Fatalf("err = %v", err)
			}
			if s.State != StateAborted {
				t.Fatalf("state = %s", s.State)
			}
			if last := s.Trail[len(s.Trail)-1]; last.From != tc.at {
				t.Errorf("aborted from %s, want %s", last.From, tc.at)
			}
			dir, err := h.store.Open(s.Key)
			if err != nil {
				t.Fatalf("session dir should be kept: %v", err)
			}
			if _, err := dir.ReadRecord(); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("record.json written on abort: %v", err)
			}
			if len(pub.published) != 0 {
				t.Error("aborted session published")
			}
		})
	}
}

func TestRegenerationReplacesWholesale(t *testing.T) {
	content := &fakeContent{}
	img := &flakyImage{}
	pub := &fakePublisher{hasCred: true}
	h := newHarness(t, content, img, pub, RunOptions{Category: generator.CategoryTravel, TitleCount: 3},
		"r", "2", // new title batch
		"r", "y", // new body
		"r", "y", // new cover
		"", "y")

	s, err := h.orch.Run(context.Background(), "主题")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if content.inferCalls != 0 {
		t.Error("explicit category must bypass inference")
	}
	if !reflect.DeepEqual(s.Titles, []string{"T1-1", "T1-2", "T1-3"}) {
		t.Errorf("titles = %v", s.Titles)
	}
	want := generator.Draft{Title: "T1-2", Body: "B1 for T1-2", Tags: []string{"tag1"}}
	if !reflect.DeepEqual(s.Draft, want) || !reflect.DeepEqual(pub.published[0], want) {
		t.Errorf("draft = %+v", s.Draft)
	}
	if img.calls != 2 {
		t.Errorf("image calls = %d", img.calls)
	}
	data, err := os.ReadFile(s.Image.Path)
	if err != nil {
		t.Fatal(err)
	}
	second, _ := generator.MockImage{}.Generate(context.Background(), s.Image.Prompt+"2", "")
	if string(data) != string(second) {
		t.Error("cover on disk is not the regenerated one")
	}
}

func TestBodyEditUsesSuggestion(t *testing.T) {
	content := &fakeContent{}
	pub := &fakePublisher{hasCred: true}
	h := newHarness(t, content, nil, pub, RunOptions{}, "1", "e", "", "更口语化一点", "y", "", "y")

	s, err := h.orch.Run(context.Background(), "主题")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !reflect.DeepEqual(content.refined, []string{"更口语化一点"}) {
		t.Errorf("refined = %v", content.refined)
	}
	if s.Draft.Body != "B0 for T0-1 / 更口语化一点" || !reflect.DeepEqual(s.Draft.Tags, []string{"refined"}) {
		t.Errorf("draft = %+v", s.Draft)
	}
	if s.Image != nil || s.Visited(StateImageDrafted) {
		t.Error("no image backend should skip the cover")
	}
}

func TestInvalidInputIsReprompted(t *testing.T) {
	h := newHarness(t, &fakeContent{}, nil, &fakePublisher{hasCred: true}, RunOptions{TitleCount: 5},
		"0", "abc", "6", "5", "maybe", "y", "friends", "public", "n", "y")

	s, err := h.orch.Run(context.Background(), "主题")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.Draft.Title != "T0-5" || s.Visibility != publisher.VisibilityPublic {
		t.Errorf("session = %+v", s)
	}
	problems := 0
	for _, r := range h.human.requests {
		if r.Problem != "" {
			problems++
		}
	}
	if problems != 6 {
		t.Errorf("expected 6 re-prompts, got %d", problems)
	}
}

func TestRateLimitRetriedAutomatically(t *testing.T) {
	rl := apperr.Errorf(apperr.KindRateLimit, "fake", "slow down")
	content := &fakeContent{titleErrs: []error{rl, rl}}
	h := newHarness(t, content, nil, &fakePublisher{hasCred: true}, RunOptions{}, "1", "y", "", "y")

	if _, err := h.orch.Run(context.Background(), "主题"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(content.titleCounts) != 3 {
		t.Errorf("title calls = %d", len(content.titleCounts))
	}
	if h.human.requests[0].Title != "候选标题" {
		t.Errorf("retryable error reached the human: %+v", h.human.requests[0])
	}
}

func TestExhaustedRetriesAskHuman(t *testing.T) {
	to := apperr.Errorf(apperr.KindTimeout, "fake", "deadline")
	content := &fakeContent{titleErrs: []error{to, to, to}}
	h := newHarness(t, content, nil, &fakePublisher{hasCred: true}, RunOptions{}, "r", "1", "y", "", "y")

	if _, err := h.orch.Run(context.Background(), "主题"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if h.human.requests[0].Title != "标题生成失败" {
		t.Fatalf("first request = %+v", h.human.requests[0])
	}
	if len(content.titleCounts) != 4 {
		t.Errorf("title calls = %d", len(content.titleCounts))
	}
}

func TestWrongCodeKeepsState(t *testing.T) {
	pub := &fakePublisher{validCode: "123456"}
	h := newHarness(t, &fakeContent{}, nil, pub, RunOptions{},
		"1", "y", "23800138000", "13800138000", "000000", "123456", "", "y")

	s, err := h.orch.Run(context.Background(), "主题")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if pub.sendCalls != 2 || pub.loginCalls != 2 {
		t.Errorf("send=%d login=%d", pub.sendCalls, pub.loginCalls)
	}
	if s.Draft.Title != "T0-1" {
		t.Errorf("draft lost: %+v", s.Draft)
	}
	var codeProblems int
	for _, r := range h.human.requests {
		if strings.Contains(r.Problem, "验证码错误") {
			codeProblems++
		}
	}
	if codeProblems != 1 {
		t.Errorf("code problems = %d", codeProblems)
	}
}

func TestEmptyThemeRejected(t *testing.T) {
	h := newHarness(t, &fakeContent{}, nil, &fakePublisher{}, RunOptions{})
	s, err := h.orch.Run(context.Background(), "   ")
	if !errors.Is(err, apperr.ErrValidation) || s != nil {
		t.Fatalf("Run = %v, %v", s, err)
	}
	if list, _ := h.store.List(); len(list) != 0 {
		t.Error("empty theme created a session directory")
	}
}

func TestDraftSnapshotWritten(t *testing.T) {
	h := newHarness(t, &fakeContent{}, nil, &fakePublisher{hasCred: true}, RunOptions{}, "3", "q")
	s, _ := h.orch.Run(context.Background(), "主题")
	dir, err := h.store.Open(s.Key)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := dir.ReadDraft()
	if err != nil {
		t.Fatalf("ReadDraft: %v", err)
	}
	if snap.State != "TitleChosen" || snap.Draft.Title != "T0-3" || len(snap.Titles) != 10 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateStart, StateCategoryResolved, true},
		{StateStart, StateTitlesOffered, false},
		{StateTitlesOffered, StateTitlesOffered, true},
		{StateBodyApproved, StateImageApproved, true},
		{StateImageApproved, StateVisibilitySet, false},
		{StateVisibilitySet, StateAuthenticated, true},
		{StateBodyDrafted, StateAborted, true},
		{StatePublished, StateAborted, false},
		{StateAborted, StateStart, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("CanTransition(%s, %s) = %v", tc.from, tc.to, got)
		}
	}
}

func TestNewRejectsUnknownCategory(t *testing.T) {
	_, err := New(Deps{Content: &fakeContent{}, Publisher: &fakePublisher{}, Store: store.New(t.TempDir()), Human: &scriptHuman{}},
		RunOptions{Category: "cars"})
	if err == nil {
		t.Fatal("expected error")
	}
}
