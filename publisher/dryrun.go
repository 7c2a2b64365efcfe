package publisher

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"auto_xhs_publisher/apperr"
	"auto_xhs_publisher/generator"
)

// DryRun accepts every login and records notes instead of sending them.
type DryRun struct {
	logger *log.Logger

	mu       sync.Mutex
	loggedIn bool
	Notes    []generator.Draft
}

func NewDryRun(loggedIn bool, logger *log.Logger) *DryRun {
	if logger == nil {
		logger = log.Default()
	}
	return &DryRun{loggedIn: loggedIn, logger: logger}
}

func (d *DryRun) HasCredential() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.loggedIn
}

func (d *DryRun) RequestVerificationCode(_ context.Context, phone string) error {
	if !phoneRe.MatchString(phone) {
		return apperr.Errorf(apperr.KindAuth, "publisher.RequestVerificationCode", "invalid phone number %q", phone)
	}
	d.logger.Printf("[dry-run] verification code requested for %s", maskPhone(phone))
	return nil
}

func (d *DryRun) Login(_ context.Context, phone, code string) (Credential, error) {
	if code == "" {
		return Credential{}, apperr.Errorf(apperr.KindAuth, "publisher.Login", "verification code is empty")
	}
	d.mu.Lock()
	d.loggedIn = true
	d.mu.Unlock()
	return NewCredential("dry-run:" + phone), nil
}

func (d *DryRun) Publish(_ context.Context, draft generator.Draft, image *generator.ImageAsset, visibility Visibility, _ Credential) (Outcome, error) {
	d.mu.Lock()
	d.Notes = append(d.Notes, draft)
	d.mu.Unlock()

	cover := "none"
	if image != nil {
		cover = image.Path
	}
	d.logger.Printf("[dry-run] would publish %q (%s, cover=%s, tags=%s)", draft.Title, visibility, cover, draft.FormatTags())
	id := uuid.NewString()
	return Outcome{
		NoteID:      id,
		URL:         fmt.Sprintf("dry-run://note/%s", id),
		Topics:      append([]string(nil), draft.Tags...),
		PublishedAt: time.Now(),
	}, nil
}
