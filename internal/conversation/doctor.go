package conversation

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
	"github.com/hammamikhairi/tcmvoice/internal/qa"
)

// User-facing doctor messages.
const (
	msgNeedSymptoms   = "请输入症状描述"
	msgEmptyAnswer    = "收到回复但内容为空"
	msgMalformed      = "请求成功但格式异常"
	msgAPIFallback    = "使用模拟回复，API连接失败"
	msgNothingToRead  = "没有可朗读的内容"
	msgNothingToCopy  = "没有可复制的内容"
	msgCopied         = "已复制到剪贴板"
	msgDraftUpdated   = "已填入: %s"
	msgDraftCleared   = "输入已清空"
	defaultAutoReadIn = 500 * time.Millisecond
)

// SpeakFunc plays text and reports how playback ended.
type SpeakFunc func(text string) <-chan error

// OutputFunc shows one consultation message to the user.
type OutputFunc func(turn domain.ChatTurn)

// DoctorOption configures the Doctor.
type DoctorOption func(*Doctor)

// WithAutoReadDelay sets how long after an answer it is read aloud.
// Zero or negative disables automatic reading.
func WithAutoReadDelay(d time.Duration) DoctorOption {
	return func(doc *Doctor) { doc.autoRead = d }
}

// WithOutput installs the function that displays questions and answers.
func WithOutput(fn OutputFunc) DoctorOption {
	return func(doc *Doctor) { doc.output = fn }
}

// WithClipboard replaces the system clipboard writer.
func WithClipboard(fn func(string) error) DoctorOption {
	return func(doc *Doctor) { doc.copyFn = fn }
}

// Doctor runs AI doctor consultations: a draft the user dictates or types,
// a question to the Q&A service with the saved history, and a spoken
// answer. When the service is unreachable a canned reply keyed on the
// symptoms is used instead.
type Doctor struct {
	qa       domain.QAClient
	store    domain.ProfileStore
	notifier domain.Notifier
	speak    SpeakFunc
	output   OutputFunc
	copyFn   func(string) error
	log      *logger.Logger
	autoRead time.Duration

	mu       sync.Mutex
	draft    string
	last     string
	readTime *time.Timer
}

// NewDoctor creates the consultation service.
func NewDoctor(client domain.QAClient, store domain.ProfileStore, notifier domain.Notifier, speak SpeakFunc, log *logger.Logger, opts ...DoctorOption) *Doctor {
	d := &Doctor{
		qa:       client,
		store:    store,
		notifier: notifier,
		speak:    speak,
		output:   func(domain.ChatTurn) {},
		copyFn:   clipboard.WriteAll,
		log:      log.Named("doctor"),
		autoRead: defaultAutoReadIn,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// ── Draft ────────────────────────────────────────────────────────

// SetDraft replaces the pending question.
func (d *Doctor) SetDraft(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	d.mu.Lock()
	d.draft = text
	d.mu.Unlock()
	d.toast(ctx, fmt.Sprintf(msgDraftUpdated, text), domain.SeverityInfo)
}

// Draft returns the pending question.
func (d *Doctor) Draft() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.draft
}

// ClearDraft empties the pending question.
func (d *Doctor) ClearDraft(ctx context.Context) {
	d.mu.Lock()
	d.draft = ""
	d.mu.Unlock()
	d.toast(ctx, msgDraftCleared, domain.SeverityInfo)
}

// SendDraft consults with the pending question.
func (d *Doctor) SendDraft(ctx context.Context) (string, error) {
	return d.Consult(ctx, d.Draft())
}

// ── Consultation ─────────────────────────────────────────────────

// Consult asks about symptoms and returns the reply shown to the user. A
// service failure is not an error: the reply is then a local fallback and
// a toast says so. Only empty input fails, with ErrInvalidInput.
func (d *Doctor) Consult(ctx context.Context, symptoms string) (string, error) {
	symptoms = strings.TrimSpace(symptoms)
	if symptoms == "" {
		d.toast(ctx, msgNeedSymptoms, domain.SeverityWarning)
		return "", domain.ErrInvalidInput
	}

	asked := domain.ChatTurn{Role: domain.RoleUser, Content: symptoms, At: time.Now()}
	d.output(asked)

	answer, fromService := d.ask(ctx, symptoms)
	replied := domain.ChatTurn{Role: domain.RoleAssistant, Content: answer, At: time.Now()}
	d.output(replied)

	if fromService {
		if err := d.store.AppendHistory(ctx, asked, replied); err != nil {
			d.log.Warn("saving history: %v", err)
		}
	}

	d.mu.Lock()
	d.last = answer
	d.draft = ""
	d.mu.Unlock()

	d.scheduleRead(answer)
	return answer, nil
}

// ask returns the answer text and whether it came from the service.
func (d *Doctor) ask(ctx context.Context, symptoms string) (string, bool) {
	userID, err := d.store.UserID(ctx)
	if err != nil {
		d.log.Warn("user id unavailable: %v", err)
	}
	history, err := d.store.History(ctx)
	if err != nil {
		d.log.Warn("history unavailable: %v", err)
	}
	if history == nil {
		history = []domain.ChatTurn{}
	}

	resp, err := d.qa.Ask(ctx, domain.QARequest{UserID: userID, Query: symptoms, History: history})
	if err != nil {
		if qa.IsStatus(err) {
			d.log.Error("consultation rejected by service: %v", err)
		} else {
			d.log.Error("consultation service unreachable: %v", err)
		}
		d.toast(ctx, msgAPIFallback, domain.SeverityWarning)
		return FallbackReply(symptoms), false
	}
	return answerText(resp), true
}

// answerText extracts what to show from a service reply.
func answerText(resp *domain.QAResponse) string {
	if resp.Code == 200 && resp.Data != nil {
		if resp.Data.Answer == "" {
			return msgEmptyAnswer
		}
		return resp.Data.Answer
	}
	if resp.Msg != "" {
		return resp.Msg
	}
	return msgMalformed
}

func (d *Doctor) scheduleRead(answer string) {
	if d.autoRead <= 0 || d.speak == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.readTime != nil {
		d.readTime.Stop()
	}
	d.readTime = time.AfterFunc(d.autoRead, func() {
		d.speak(Speakable(answer))
	})
}

// ── Last answer ──────────────────────────────────────────────────

// LastAnswer returns the most recent reply, or "".
func (d *Doctor) LastAnswer() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// ReadLast speaks the most recent reply again.
func (d *Doctor) ReadLast(ctx context.Context) (<-chan error, error) {
	last := d.LastAnswer()
	if last == "" || d.speak == nil {
		d.toast(ctx, msgNothingToRead, domain.SeverityWarning)
		return nil, domain.ErrNotFound
	}
	return d.speak(Speakable(last)), nil
}

// CopyLast puts the most recent reply on the system clipboard.
func (d *Doctor) CopyLast(ctx context.Context) error {
	last := d.LastAnswer()
	if last == "" {
		d.toast(ctx, msgNothingToCopy, domain.SeverityWarning)
		return domain.ErrNotFound
	}
	if err := d.copyFn(last); err != nil {
		d.log.Warn("clipboard: %v", err)
		return fmt.Errorf("copying reply: %w", err)
	}
	d.toast(ctx, msgCopied, domain.SeveritySuccess)
	return nil
}

func (d *Doctor) toast(ctx context.Context, msg string, sev domain.Severity) {
	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify(ctx, msg, sev); err != nil {
		d.log.Debug("notify failed: %v", err)
	}
}

// ── Text helpers ─────────────────────────────────────────────────

var markdownEmphasis = regexp.MustCompile(`\*{1,2}([^*]+)\*{1,2}`)

// Speakable strips markdown emphasis and list bullets so the reply reads
// naturally.
func Speakable(text string) string {
	text = markdownEmphasis.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "•", "")
	return strings.TrimSpace(text)
}
