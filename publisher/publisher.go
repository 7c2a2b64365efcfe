package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"auto_xhs_publisher/apperr"
	"auto_xhs_publisher/generator"
)

const (
	sendCodePath  = "/api/sns/web/v1/login/send_code"
	checkCodePath = "/api/sns/web/v1/login/check_code"
	loginCodePath = "/api/sns/web/v1/login/code"
	uploadPath    = "/api/media/v1/upload"
	topicPath     = "/web_api/sns/v1/search/topic"
	notePath      = "/web_api/sns/v2/note"

	maxTopics = 3
)

// 网关在凭证失效时返回的业务码。
var authCodes = map[int]bool{-100: true, -101: true, -104: true}

var phoneRe = regexp.MustCompile(`^(?:\+?86)?1[3-9]\d{9}$`)

// loginNamespace seeds deterministic request IDs for the code exchange.
var loginNamespace = uuid.MustParse("6f1c1a2e-4a0b-4d7e-9a57-2f0f5c3f7e11")

// Config holds the gateway settings.
type Config struct {
	BaseURL    string
	CookieFile string
	// Cookie takes priority over the saved cookie file.
	Cookie string
	// TopicPause spaces out topic lookups; zero disables the pause.
	TopicPause time.Duration
}

type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

type checkCodeData struct {
	MobileToken string `json:"mobile_token"`
}

type loginData struct {
	Cookie string `json:"cookie"`
	UserID string `json:"user_id"`
}

type uploadData struct {
	FileID string `json:"file_id"`
}

type topicData struct {
	Topics []topic `json:"topic_info_dtos"`
}

type topic struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Link string `json:"link,omitempty"`
}

type notePayload struct {
	Title     string   `json:"title"`
	Desc      string   `json:"desc"`
	ImageIDs  []string `json:"image_ids"`
	Topics    []topic  `json:"topics"`
	IsPrivate bool     `json:"is_private"`
	PostTime  string   `json:"post_time"`
}

type noteData struct {
	NoteID    string `json:"id"`
	ShareLink string `json:"share_link"`
}

// gatewayError 保存网关返回的原始状态，调用方再按接口映射到错误类别。
type gatewayError struct {
	Status int
	Code   int
	Msg    string
}

func (e *gatewayError) Error() string {
	return fmt.Sprintf("gateway HTTP %d code=%d: %s", e.Status, e.Code, e.Msg)
}

func (e *gatewayError) unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden || authCodes[e.Code]
}

// HTTPClient talks to the note gateway over JSON/multipart.
type HTTPClient struct {
	cfg     Config
	client  *http.Client
	cookies CookieFile
	verbose bool
	logger  *log.Logger
	now     func() time.Time

	mu     sync.Mutex
	cookie string
	// saved 表示 cookie 来自本地文件或本次登录，失效时才清理文件
	saved bool
}

// New creates an HTTPClient and loads the saved cookie so a previous login can be reused.
func New(cfg Config, client *http.Client, verbose bool, logger *log.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("publisher base_url is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	if logger == nil {
		logger = log.Default()
	}
	p := &HTTPClient{
		cfg:     cfg,
		client:  client,
		cookies: CookieFile{Path: cfg.CookieFile},
		verbose: verbose,
		logger:  logger,
		now:     time.Now,
	}

	// Cookie 优先级: 配置传入 > 本地保存 > 无
	p.cookie = strings.TrimSpace(cfg.Cookie)
	if p.cookie == "" {
		saved, err := p.cookies.Load()
		if err != nil {
			logger.Printf("[publisher] ignoring unreadable cookie file %s: %v", cfg.CookieFile, err)
		}
		if saved != "" {
			p.infof("Loaded saved login cookie")
		}
		p.cookie = saved
		p.saved = saved != ""
	}
	return p, nil
}

func (p *HTTPClient) infof(format string, args ...interface{}) {
	if !p.verbose {
		return
	}
	p.logger.Printf("[INFO] "+format, args...)
}

func (p *HTTPClient) HasCredential() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cookie != ""
}

func (p *HTTPClient) RequestVerificationCode(ctx context.Context, phone string) error {
	const op = "publisher.RequestVerificationCode"
	phone = strings.TrimSpace(phone)
	if !phoneRe.MatchString(phone) {
		return apperr.Errorf(apperr.KindAuth, op, "invalid phone number %q", phone)
	}
	if err := p.doJSON(ctx, http.MethodPost, sendCodePath, "", "", map[string]string{"phone": phone}, nil); err != nil {
		return loginError(op, err)
	}
	p.infof("Verification code sent to %s", maskPhone(phone))
	return nil
}

// Login exchanges phone+code for a session cookie. Both gateway calls carry the
// same request ID for the same phone and code, so re-entering a code is deduplicated upstream.
func (p *HTTPClient) Login(ctx context.Context, phone, code string) (Credential, error) {
	const op = "publisher.Login"
	phone = strings.TrimSpace(phone)
	code = strings.TrimSpace(code)
	if code == "" {
		return Credential{}, apperr.Errorf(apperr.KindAuth, op, "verification code is empty")
	}
	reqID := uuid.NewSHA1(loginNamespace, []byte(phone+":"+code)).String()

	var check checkCodeData
	if err := p.doJSON(ctx, http.MethodPost, checkCodePath, "", reqID, map[string]string{"phone": phone, "code": code}, &check); err != nil {
		return Credential{}, loginError(op, err)
	}
	if check.MobileToken == "" {
		return Credential{}, apperr.Errorf(apperr.KindAuth, op, "gateway returned no mobile token")
	}

	var login loginData
	if err := p.doJSON(ctx, http.MethodPost, loginCodePath, "", reqID, map[string]string{"phone": phone, "mobile_token": check.MobileToken}, &login); err != nil {
		return Credential{}, loginError(op, err)
	}
	if login.Cookie == "" {
		return Credential{}, apperr.Errorf(apperr.KindAuth, op, "gateway returned no session cookie")
	}

	p.mu.Lock()
	p.cookie, p.saved = login.Cookie, true
	p.mu.Unlock()
	if err := p.cookies.Save(login.Cookie); err != nil {
		p.logger.Printf("[publisher] failed to save login cookie: %v", err)
	} else {
		p.infof("Login cookie saved to %s", p.cfg.CookieFile)
	}
	return NewCredential(login.Cookie), nil
}

// Publish uploads the cover, resolves topics and creates the note.
func (p *HTTPClient) Publish(ctx context.Context, draft generator.Draft, image *generator.ImageAsset, visibility Visibility, cred Credential) (Outcome, error) {
	const op = "publisher.Publish"
	token := cred.value
	if token == "" {
		p.mu.Lock()
		token = p.cookie
		p.mu.Unlock()
	}
	if token == "" {
		return Outcome{}, apperr.Errorf(apperr.KindAuth, op, "not logged in")
	}
	if strings.TrimSpace(draft.Title) == "" || strings.TrimSpace(draft.Body) == "" {
		return Outcome{}, apperr.Errorf(apperr.KindPublish, op, "title and body are required")
	}

	var imageIDs []string
	if image != nil && image.Path != "" {
		fileID, err := p.uploadImage(ctx, token, image.Path)
		if err != nil {
			return Outcome{}, p.publishError(op, token, err)
		}
		p.infof("Uploaded cover image %s -> file_id=%s", image.Path, fileID)
		imageIDs = []string{fileID}
	}

	topics, suffix := p.formatTopics(ctx, token, draft.Tags)
	if len(topics) > 0 {
		p.infof("Matched %d topics", len(topics))
	}

	now := p.now()
	payload := notePayload{
		Title:     draft.Title,
		Desc:      draft.Body + suffix,
		ImageIDs:  imageIDs,
		Topics:    topics,
		IsPrivate: visibility != VisibilityPublic,
		PostTime:  now.Format("2006-01-02 15:04:05"),
	}
	var note noteData
	if err := p.doJSON(ctx, http.MethodPost, notePath, token, "", payload, &note); err != nil {
		return Outcome{}, p.publishError(op, token, err)
	}
	if note.NoteID == "" {
		return Outcome{}, apperr.Errorf(apperr.KindPublish, op, "gateway returned no note id")
	}
	p.infof("Note created successfully: id=%s", note.NoteID)

	names := make([]string, 0, len(topics))
	for _, t := range topics {
		names = append(names, t.Name)
	}
	return Outcome{NoteID: note.NoteID, URL: note.ShareLink, Topics: names, PublishedAt: now}, nil
}

// formatTopics 把前几个标签匹配成平台话题，返回话题列表和正文后缀；单个话题查询失败不影响整体。
func (p *HTTPClient) formatTopics(ctx context.Context, token string, tags []string) ([]topic, string) {
	if len(tags) > maxTopics {
		tags = tags[:maxTopics]
	}
	var topics []topic
	for i, tag := range tags {
		if i > 0 && p.cfg.TopicPause > 0 {
			select {
			case <-ctx.Done():
				return topics, topicSuffix(topics)
			case <-time.After(p.cfg.TopicPause):
			}
		}
		var data topicData
		path := topicPath + "?keyword=" + url.QueryEscape(tag)
		if err := p.doJSON(ctx, http.MethodGet, path, token, "", nil, &data); err != nil {
			p.infof("Topic lookup for %q failed: %v", tag, err)
			continue
		}
		if len(data.Topics) == 0 {
			continue
		}
		t := data.Topics[0]
		t.Type = "topic"
		topics = append(topics, t)
	}
	return topics, topicSuffix(topics)
}

func topicSuffix(topics []topic) string {
	if len(topics) == 0 {
		return ""
	}
	parts := make([]string, 0, len(topics))
	for _, t := range topics {
		parts = append(parts, "#"+t.Name+"[话题]#")
	}
	return "\n" + strings.Join(parts, " ")
}

func (p *HTTPClient) uploadImage(ctx context.Context, token, imagePath string) (string, error) {
	file, err := os.Open(imagePath)
	if err != nil {
		return "", err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(imagePath))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+uploadPath, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Cookie", token)

	var data uploadData
	if err := p.do(req, &data); err != nil {
		return "", err
	}
	if data.FileID == "" {
		return "", &gatewayError{Status: http.StatusOK, Msg: "upload returned no file_id"}
	}
	return data.FileID, nil
}

func (p *HTTPClient) doJSON(ctx context.Context, method, path, token, reqID string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Cookie", token)
	}
	if reqID != "" {
		req.Header.Set("X-Request-ID", reqID)
	}
	return p.do(req, out)
}

func (p *HTTPClient) do(req *http.Request, out any) error {
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 400 {
			return &gatewayError{Status: resp.StatusCode, Msg: http.StatusText(resp.StatusCode)}
		}
		return fmt.Errorf("decode gateway response: %w", err)
	}
	if resp.StatusCode >= 400 || !env.Success {
		return &gatewayError{Status: resp.StatusCode, Code: env.Code, Msg: env.Msg}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("decode gateway data: %w", err)
		}
	}
	return nil
}

// loginError: gateway rejections are auth failures; 5xx and transport failures are network errors.
func loginError(op string, err error) error {
	var gw *gatewayError
	if errors.As(err, &gw) && gw.Status < 500 {
		return apperr.E(apperr.KindAuth, op, err)
	}
	return apperr.E(apperr.KindNetwork, op, err)
}

// publishError maps publish failures. A rejected token is forgotten, and the
// cookie file is cleared only when that token is the one it holds.
func (p *HTTPClient) publishError(op, token string, err error) error {
	var gw *gatewayError
	if !errors.As(err, &gw) {
		if errors.Is(err, os.ErrNotExist) {
			return apperr.E(apperr.KindPublish, op, err)
		}
		return apperr.E(apperr.KindNetwork, op, err)
	}
	switch {
	case gw.unauthorized():
		p.mu.Lock()
		clearFile := false
		if token == p.cookie {
			clearFile = p.saved
			p.cookie, p.saved = "", false
		}
		p.mu.Unlock()
		if clearFile {
			if cerr := p.cookies.Clear(); cerr != nil {
				p.logger.Printf("[publisher] failed to clear cookie file: %v", cerr)
			}
		}
		return apperr.E(apperr.KindAuth, op, err)
	case gw.Status >= 500:
		return apperr.E(apperr.KindNetwork, op, err)
	default:
		return apperr.E(apperr.KindPublish, op, err)
	}
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return "***"
	}
	return phone[:3] + "****" + phone[len(phone)-4:]
}
