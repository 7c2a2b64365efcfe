package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"auto_xhs_publisher/apperr"
	"auto_xhs_publisher/generator"
	"auto_xhs_publisher/publisher"
	"auto_xhs_publisher/store"
)

// ErrAborted is returned when the human cancels the session.
var ErrAborted = errors.New("pipeline: session aborted")

const (
	DefaultTitleCount  = 10
	DefaultMaxAttempts = 3
	DefaultRetryPause  = 2 * time.Second
)

// Content is the part of generator.ContentGenerator the pipeline drives.
type Content interface {
	InferCategory(ctx context.Context, theme string) (generator.Category, error)
	GenerateTitles(ctx context.Context, theme string, c generator.Category, count, attempt int) ([]string, error)
	GenerateBody(ctx context.Context, theme string, c generator.Category, title string, attempt int) (generator.Body, error)
	RefineBody(ctx context.Context, theme string, c generator.Category, prev generator.Draft, suggestion string, attempt int) (generator.Body, error)
}

// Covers produces cover images; satisfied by *generator.ImageGenerator.
type Covers interface {
	GenerateCover(ctx context.Context, dst generator.CoverWriter, title, body string) (generator.ImageAsset, error)
}

// Deps are the collaborators of an Orchestrator. Covers may be nil, in
// which case every session skips the cover.
type Deps struct {
	Content   Content
	Covers    Covers
	Publisher publisher.Client
	Store     *store.Store
	Human     Human
	Logger    *log.Logger
}

// RunOptions tune a run.
type RunOptions struct {
	// Category is generator.CategoryAuto (or empty) to infer it from the theme.
	Category   generator.Category
	TitleCount int
	// Credential is an externally supplied login; zero means none.
	Credential  publisher.Credential
	MaxAttempts int
	// RetryPause is the wait between automatic retries; negative disables it.
	RetryPause time.Duration
	Verbose    bool
}

// Orchestrator drives one session at a time from theme to published note.
type Orchestrator struct {
	deps Deps
	opts RunOptions
	now  func() time.Time
}

var (
	phonePattern = regexp.MustCompile(`^\+?\d{6,15}$`)
	codePattern  = regexp.MustCompile(`^\d{4,8}$`)
)

func New(deps Deps, opts RunOptions) (*Orchestrator, error) {
	switch {
	case deps.Content == nil:
		return nil, errors.New("pipeline: content generator is required")
	case deps.Publisher == nil:
		return nil, errors.New("pipeline: publisher is required")
	case deps.Store == nil:
		return nil, errors.New("pipeline: store is required")
	case deps.Human == nil:
		return nil, errors.New("pipeline: human checkpoint handler is required")
	}
	if deps.Logger == nil {
		deps.Logger = log.Default()
	}
	if opts.Category == "" {
		opts.Category = generator.CategoryAuto
	}
	if opts.Category != generator.CategoryAuto && !opts.Category.Known() {
		return nil, fmt.Errorf("pipeline: unknown category %q", opts.Category)
	}
	if opts.TitleCount <= 0 {
		opts.TitleCount = DefaultTitleCount
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RetryPause == 0 {
		opts.RetryPause = DefaultRetryPause
	}
	return &Orchestrator{deps: deps, opts: opts, now: time.Now}, nil
}

func (o *Orchestrator) infof(format string, args ...interface{}) {
	if !o.opts.Verbose {
		return
	}
	o.deps.Logger.Printf("[INFO] "+format, args...)
}

// Run executes one session. The returned Session is non-nil whenever a
// session directory was created, including aborted runs.
func (o *Orchestrator) Run(ctx context.Context, theme string) (*Session, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return nil, apperr.Errorf(apperr.KindValidation, "pipeline.Run", "theme is empty")
	}
	dir, err := o.deps.Store.Create()
	if err != nil {
		return nil, fmt.Errorf("pipeline: create session dir: %w", err)
	}
	s := &Session{
		Theme:      theme,
		Category:   o.opts.Category,
		Key:        dir.Key,
		CreatedAt:  dir.CreatedAt,
		Visibility: publisher.VisibilityPrivate,
		State:      StateStart,
		dir:        dir,
		credential: o.opts.Credential,
		now:        o.now,
	}
	o.deps.Logger.Printf("[pipeline] session %s started: %s", s.Key, theme)

	steps := []func(context.Context, *Session) error{
		o.resolveCategory,
		o.chooseTitle,
		o.approveBody,
		o.approveImage,
		o.authenticate,
		o.publish,
	}
	for _, step := range steps {
		if err := step(ctx, s); err != nil {
			if errors.Is(err, ErrAborted) {
				s.advance(StateAborted) //nolint:errcheck // always legal from a non-terminal state
				o.deps.Logger.Printf("[pipeline] session %s aborted at %s; files kept in %s", s.Key, s.Trail[len(s.Trail)-1].From, dir.Path)
			}
			return s, err
		}
	}
	o.deps.Logger.Printf("[pipeline] session %s published: note=%s", s.Key, s.Record.Outcome.NoteID)
	return s, nil
}

func (o *Orchestrator) resolveCategory(ctx context.Context, s *Session) error {
	if s.Category != generator.CategoryAuto {
		o.infof("Using explicit category %s", s.Category)
		return s.advance(StateCategoryResolved)
	}
	for {
		c, err := retry(ctx, o, "infer category", func() (generator.Category, error) {
			return o.deps.Content.InferCategory(ctx, s.Theme)
		})
		if err == nil {
			s.Category = c
			o.deps.Logger.Printf("[pipeline] category: %s (%s)", c, c.Label())
			return s.advance(StateCategoryResolved)
		}
		act, ferr := o.onFailure(ctx, s, "分类识别失败", err, "使用默认分类")
		if ferr != nil {
			return ferr
		}
		if act == actionSkip {
			s.Category = generator.CategoryGeneral
			return s.advance(StateCategoryResolved)
		}
	}
}

func (o *Orchestrator) chooseTitle(ctx context.Context, s *Session) error {
	extra := Options{Choices: []Choice{{Key: "r", Label: "换一批", Aliases: []string{"regen"}}}}
	for attempt := 0; ; {
		titles, err := retry(ctx, o, "generate titles", func() ([]string, error) {
			return o.deps.Content.GenerateTitles(ctx, s.Theme, s.Category, o.opts.TitleCount, attempt)
		})
		if err != nil {
			if _, ferr := o.onFailure(ctx, s, "标题生成失败", err, ""); ferr != nil {
				return ferr
			}
			continue
		}
		s.Titles = titles
		if err := s.advance(StateTitlesOffered); err != nil {
			return err
		}

		var detail strings.Builder
		for i, t := range titles {
			fmt.Fprintf(&detail, "%2d. %s\n", i+1, t)
		}
		answer, err := o.ask(ctx, Request{
			Stage:  s.State,
			Title:  "候选标题",
			Detail: strings.TrimRight(detail.String(), "\n"),
			Prompt: "选择标题序号，r 重新生成，q 退出",
			Domain: Index{Max: len(titles), Extra: extra},
		})
		if err != nil {
			return err
		}
		if answer == "r" {
			attempt++
			continue
		}
		n, _ := strconv.Atoi(answer)
		s.Draft = generator.Draft{Title: titles[n-1]}
		if err := s.advance(StateTitleChosen); err != nil {
			return err
		}
		o.deps.Logger.Printf("[pipeline] title chosen: %s", s.Draft.Title)
		o.saveSnapshot(s)
		return nil
	}
}

func (o *Orchestrator) approveBody(ctx context.Context, s *Session) error {
	review := Options{Choices: []Choice{
		{Key: "y", Label: "通过", Aliases: []string{"yes", "是"}},
		{Key: "r", Label: "重新生成", Aliases: []string{"regen"}},
		{Key: "e", Label: "提修改意见", Aliases: []string{"edit"}},
	}}
	suggestion := ""
	for attempt := 0; ; {
		body, err := retry(ctx, o, "generate body", func() (generator.Body, error) {
			if suggestion != "" {
				return o.deps.Content.RefineBody(ctx, s.Theme, s.Category, s.Draft, suggestion, attempt)
			}
			return o.deps.Content.GenerateBody(ctx, s.Theme, s.Category, s.Draft.Title, attempt)
		})
		if err != nil {
			if _, ferr := o.onFailure(ctx, s, "正文生成失败", err, ""); ferr != nil {
				return ferr
			}
			continue
		}
		s.Draft = s.Draft.WithBody(body)
		suggestion = ""
		if err := s.advance(StateBodyDrafted); err != nil {
			return err
		}

		answer, err := o.ask(ctx, Request{
			Stage:  s.State,
			Title:  s.Draft.Title,
			Detail: s.Draft.Body + "\n\n" + s.Draft.FormatTags(),
			Prompt: "y 通过，r 重新生成，e 提修改意见，q 退出",
			Domain: review,
		})
		if err != nil {
			return err
		}
		switch answer {
		case "y":
			if err := s.advance(StateBodyApproved); err != nil {
				return err
			}
			o.saveSnapshot(s)
			return nil
		case "r":
			attempt++
		case "e":
			suggestion, err = o.ask(ctx, Request{
				Stage:  s.State,
				Title:  "修改意见",
				Prompt: "请输入修改意见",
				Domain: Text{Hint: "修改意见"},
			})
			if err != nil {
				return err
			}
			attempt++
		}
	}
}

func (o *Orchestrator) approveImage(ctx context.Context, s *Session) error {
	if o.deps.Covers == nil {
		o.infof("No image backend configured, skipping cover")
		return o.skipImage(s)
	}
	review := Options{Choices: []Choice{
		{Key: "y", Label: "通过", Aliases: []string{"yes", "是"}},
		{Key: "r", Label: "重新生成", Aliases: []string{"regen"}},
		{Key: "s", Label: "不要封面", Aliases: []string{"skip"}},
	}}
	for {
		asset, err := retry(ctx, o, "generate cover", func() (generator.ImageAsset, error) {
			return o.deps.Covers.GenerateCover(ctx, s.dir, s.Draft.Title, s.Draft.Body)
		})
		if err != nil {
			act, ferr := o.onFailure(ctx, s, "封面生成失败", err, "跳过封面")
			if ferr != nil {
				return ferr
			}
			if act == actionSkip {
				return o.skipImage(s)
			}
			continue
		}
		s.Image = &asset
		if err := s.advance(StateImageDrafted); err != nil {
			return err
		}

		answer, err := o.ask(ctx, Request{
			Stage:  s.State,
			Title:  "封面图",
			Detail: asset.Path,
			Prompt: "y 通过，r 重新生成，s 不要封面，q 退出",
			Domain: review,
		})
		if err != nil {
			return err
		}
		switch answer {
		case "y":
			if err := s.advance(StateImageApproved); err != nil {
				return err
			}
			o.saveSnapshot(s)
			return nil
		case "s":
			return o.skipImage(s)
		}
	}
}

func (o *Orchestrator) skipImage(s *Session) error {
	s.Image = nil
	if err := s.advance(StateImageApproved); err != nil {
		return err
	}
	o.deps.Logger.Printf("[pipeline] continuing without a cover image")
	o.saveSnapshot(s)
	return nil
}

func (o *Orchestrator) authenticate(ctx context.Context, s *Session) error {
	if !s.credential.IsZero() || o.deps.Publisher.HasCredential() {
		o.infof("Existing credential found, skipping login")
		return s.advance(StateAuthenticated)
	}
	if err := o.login(ctx, s); err != nil {
		return err
	}
	return s.advance(StateAuthenticated)
}

// login runs the phone + verification code exchange. A rejected phone or
// code re-asks only that field.
func (o *Orchestrator) login(ctx context.Context, s *Session) error {
	phoneReq := Request{
		Stage:  s.State,
		Title:  "登录",
		Prompt: "请输入手机号",
		Domain: Text{Pattern: phonePattern, Hint: "手机号"},
	}
	for {
		phone, err := o.ask(ctx, phoneReq)
		if err != nil {
			return err
		}
		err = o.sendCode(ctx, s, phone)
		if apperr.KindOf(err) == apperr.KindAuth {
			phoneReq.Problem = "手机号被拒绝: " + err.Error()
			continue
		}
		if err != nil {
			return err
		}

		codeReq := Request{
			Stage:  s.State,
			Title:  "登录",
			Prompt: "请输入验证码，r 重新发送",
			Domain: Text{Pattern: codePattern, Hint: "验证码", Extra: Options{Choices: []Choice{{Key: "r", Label: "重新发送"}}}},
		}
		pending := ""
		for {
			code := pending
			pending = ""
			if code == "" {
				if code, err = o.ask(ctx, codeReq); err != nil {
					return err
				}
			}
			if code == "r" {
				if err := o.sendCode(ctx, s, phone); err != nil {
					codeReq.Problem = "重新发送失败: " + err.Error()
				} else {
					codeReq.Problem = ""
				}
				continue
			}
			cred, err := retry(ctx, o, "login", func() (publisher.Credential, error) {
				return o.deps.Publisher.Login(ctx, phone, code)
			})
			if err == nil {
				s.credential = cred
				o.deps.Logger.Printf("[pipeline] logged in")
				return nil
			}
			if apperr.KindOf(err) == apperr.KindAuth {
				codeReq.Problem = "验证码错误或已过期: " + err.Error()
				continue
			}
			if _, ferr := o.onFailure(ctx, s, "登录失败", err, ""); ferr != nil {
				return ferr
			}
			pending = code
		}
	}
}

func (o *Orchestrator) sendCode(ctx context.Context, s *Session, phone string) error {
	for {
		_, err := retry(ctx, o, "send verification code", func() (struct{}, error) {
			return struct{}{}, o.deps.Publisher.RequestVerificationCode(ctx, phone)
		})
		if err == nil || apperr.KindOf(err) == apperr.KindAuth {
			return err
		}
		if _, ferr := o.onFailure(ctx, s, "验证码发送失败", err, ""); ferr != nil {
			return ferr
		}
	}
}

func (o *Orchestrator) publish(ctx context.Context, s *Session) error {
	vis, err := o.ask(ctx, Request{
		Stage:  s.State,
		Title:  "可见范围",
		Prompt: "private 私密 / public 公开，直接回车为私密",
		Domain: Options{Default: string(publisher.VisibilityPrivate), Choices: []Choice{
			{Key: string(publisher.VisibilityPrivate), Label: "私密", Aliases: []string{"私密", "1"}},
			{Key: string(publisher.VisibilityPublic), Label: "公开", Aliases: []string{"公开", "2"}},
		}},
	})
	if err != nil {
		return err
	}
	if s.Visibility, err = publisher.ParseVisibility(vis); err != nil {
		return err
	}
	if err := s.advance(StateVisibilitySet); err != nil {
		return err
	}

	cover := "无"
	if s.Image != nil {
		cover = s.Image.Path
	}
	if _, err := o.ask(ctx, Request{
		Stage:  s.State,
		Title:  "确认发布",
		Detail: fmt.Sprintf("标题: %s\n标签: %s\n封面: %s\n可见范围: %s", s.Draft.Title, s.Draft.FormatTags(), cover, s.Visibility),
		Prompt: "y 发布，q 退出",
		Domain: Options{Choices: []Choice{{Key: "y", Label: "发布", Aliases: []string{"yes", "是"}}}},
	}); err != nil {
		return err
	}

	// the approved content is frozen from here on
	draft := s.Draft
	draft.Tags = append([]string(nil), s.Draft.Tags...)
	var image *generator.ImageAsset
	if s.Image != nil {
		img := *s.Image
		image = &img
	}

	for {
		outcome, err := retry(ctx, o, "publish", func() (publisher.Outcome, error) {
			return o.deps.Publisher.Publish(ctx, draft, image, s.Visibility, s.credential)
		})
		if err == nil {
			return o.finish(s, draft, image, outcome)
		}
		if apperr.KindOf(err) == apperr.KindAuth {
			o.deps.Logger.Printf("[pipeline] credential rejected, logging in again: %v", err)
			s.credential = publisher.Credential{}
			if err := s.advance(StateAuthenticated); err != nil {
				return err
			}
			if err := o.login(ctx, s); err != nil {
				return err
			}
			if err := s.advance(StateVisibilitySet); err != nil {
				return err
			}
			continue
		}
		if _, ferr := o.onFailure(ctx, s, "发布失败", err, ""); ferr != nil {
			return ferr
		}
	}
}

func (o *Orchestrator) finish(s *Session, draft generator.Draft, image *generator.ImageAsset, outcome publisher.Outcome) error {
	rec := store.Record{
		Key:        s.Key,
		CreatedAt:  s.CreatedAt,
		Theme:      s.Theme,
		Category:   string(s.Category),
		Draft:      draft,
		Image:      image,
		Visibility: s.Visibility,
		Outcome:    outcome,
	}
	if err := s.advance(StatePublished); err != nil {
		return err
	}
	s.Record = &rec
	if err := s.dir.WriteRecord(rec); err != nil {
		// the note is live; only the local receipt is missing
		return fmt.Errorf("pipeline: note %s published but record.json not written: %w", outcome.NoteID, err)
	}
	return nil
}

func (o *Orchestrator) saveSnapshot(s *Session) {
	if err := s.dir.WriteDraft(s.snapshot()); err != nil {
		o.deps.Logger.Printf("[pipeline] failed to write draft snapshot: %v", err)
	}
}

// ask re-issues req until the answer passes its domain. Quit words and a
// failing Human both abort the session.
func (o *Orchestrator) ask(ctx context.Context, req Request) (string, error) {
	for {
		raw, err := o.deps.Human.Respond(ctx, req)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrAborted, err)
		}
		if isQuit(raw) {
			return "", ErrAborted
		}
		answer, err := req.Domain.Accept(raw)
		if err != nil {
			req.Problem = err.Error()
			continue
		}
		return answer, nil
	}
}

type action int

const (
	actionRetry action = iota
	actionSkip
)

// onFailure shows err to the human and returns the chosen action. skipLabel
// enables the skip option.
func (o *Orchestrator) onFailure(ctx context.Context, s *Session, title string, err error, skipLabel string) (action, error) {
	o.deps.Logger.Printf("[pipeline] %s: %v", title, err)
	choices := []Choice{{Key: "r", Label: "重试", Aliases: []string{"retry"}}}
	prompt := "r 重试，q 退出"
	if skipLabel != "" {
		choices = append(choices, Choice{Key: "s", Label: skipLabel, Aliases: []string{"skip"}})
		prompt = "r 重试，s " + skipLabel + "，q 退出"
	}
	answer, aerr := o.ask(ctx, Request{
		Stage:  s.State,
		Title:  title,
		Detail: fmt.Sprintf("[%s] %v", apperr.KindOf(err), err),
		Prompt: prompt,
		Domain: Options{Choices: choices},
	})
	if aerr != nil {
		return 0, aerr
	}
	if answer == "s" {
		return actionSkip, nil
	}
	return actionRetry, nil
}

// retry repeats fn for rate-limit and timeout errors, up to MaxAttempts
// calls with unchanged inputs.
func retry[T any](ctx context.Context, o *Orchestrator, what string, fn func() (T, error)) (T, error) {
	var (
		out T
		err error
	)
	for i := 1; i <= o.opts.MaxAttempts; i++ {
		out, err = fn()
		if err == nil || !apperr.Retryable(err) || i == o.opts.MaxAttempts {
			return out, err
		}
		o.deps.Logger.Printf("[pipeline] %s failed (%v), retry %d/%d", what, err, i, o.opts.MaxAttempts-1)
		if o.opts.RetryPause > 0 {
			select {
			case <-ctx.Done():
				return out, err
			case <-time.After(o.opts.RetryPause):
			}
		}
	}
	return out, err
}
