// Package engine is the application shell. It owns the current page,
// registers each page's command handler with the router and turns typed
// input lines into the same command path spoken transcripts take.
package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hammamikhairi/tcmvoice/internal/command"
	"github.com/hammamikhairi/tcmvoice/internal/conversation"
	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/herbs"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
	"github.com/hammamikhairi/tcmvoice/internal/voice"
)

// Compile-time interface checks.
var (
	_ command.Navigator = (*Engine)(nil)
	_ Voice             = (*voice.Controller)(nil)
)

// User-facing shell messages.
const (
	msgEntered          = "已进入%s"
	msgFound            = "找到 %d 个相关中药"
	msgNeedHerbName     = "请输入要搜索的中药名称"
	msgSmartSearching   = "正在使用AI智能搜索..."
	msgSmartSearchFail  = "智能搜索失败，请稍后重试"
	msgNoHerbToRead     = "没有可朗读的药材"
	msgGeneratingPlan   = "正在生成康养方案..."
	msgPlanReady        = "康养方案已生成"
	msgPlanFailed       = "方案生成失败，请稍后重试"
	msgNoPlan           = "还没有康养方案，请先说\"创建方案\""
	msgNotUnderstood    = "未识别的指令: %s"
	msgVoiceUnavailable = "语音输入不可用"
	msgUnknownPage      = "未知页面: %s"
)

const planPrompt = "请根据我的咨询记录，为我制定一份中医康养方案，包括饮食调理、作息建议、运动锻炼和情志调养。"

// Voice is the part of the voice controller the shell drives.
type Voice interface {
	Speak(text string, opts ...voice.SpeakOption) <-chan error
	StopSpeaking()
	Toggle() voice.ToggleAction
	DispatchCommand(ctx context.Context, transcript string, page domain.PageID) bool
}

// Option configures the engine.
type Option func(*Engine)

// WithInitialPage sets the page the shell starts on.
func WithInitialPage(page domain.PageID) Option {
	return func(e *Engine) {
		e.page = page
	}
}

// WithOutput installs the function that prints page content such as search
// results and plans.
func WithOutput(fn func(format string, a ...interface{})) Option {
	return func(e *Engine) {
		e.printf = fn
	}
}

// Engine tracks the current page and acts on routed commands. It depends
// only on interfaces for its collaborators and is testable with fakes.
type Engine struct {
	catalog  *herbs.Catalog
	doctor   *conversation.Doctor
	qa       domain.QAClient
	store    domain.ProfileStore
	notifier domain.Notifier
	router   *command.Router
	printf   func(format string, a ...interface{})
	log      *logger.Logger

	mu      sync.RWMutex
	voice   Voice
	page    domain.PageID
	results []domain.Herb
	plan    string
}

// New creates the shell and registers the page handlers on its router.
// The voice controller is attached afterwards with SetVoice, since the
// controller itself needs Router and Page.
func New(catalog *herbs.Catalog, doctor *conversation.Doctor, client domain.QAClient, store domain.ProfileStore, notifier domain.Notifier, log *logger.Logger, opts ...Option) *Engine {
	e := &Engine{
		catalog:  catalog,
		doctor:   doctor,
		qa:       client,
		store:    store,
		notifier: notifier,
		printf:   func(string, ...interface{}) {},
		log:      log.Named("engine"),
		page:     domain.PageIndex,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.router = command.NewRouter(e, log.Named("router"))
	e.router.Register(domain.PageHerbs, command.HandlerFunc(e.handleHerbs))
	e.router.Register(domain.PageAIDoctor, command.HandlerFunc(e.handleDoctor))
	e.router.Register(domain.PagePlan, command.HandlerFunc(e.handlePlan))
	return e
}

// Router returns the command router for the voice controller.
func (e *Engine) Router() *command.Router {
	return e.router
}

// SetVoice attaches the voice controller.
func (e *Engine) SetVoice(v Voice) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.voice = v
}

func (e *Engine) currentVoice() Voice {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.voice
}

// ── Pages ────────────────────────────────────────────────────────

// Page returns the current page. Safe to call from any goroutine.
func (e *Engine) Page() domain.PageID {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.page
}

// Navigate switches to page and announces it.
func (e *Engine) Navigate(ctx context.Context, page domain.PageID) {
	e.mu.Lock()
	prev := e.page
	e.page = page
	e.mu.Unlock()

	e.log.Info("page %s -> %s", prev, page)
	e.toast(ctx, fmt.Sprintf(msgEntered, page.Title()), domain.SeverityInfo)
}

// ── Typed input ──────────────────────────────────────────────────

// HandleInput acts on one typed line. Lines starting with "/" are shell
// commands; anything else is treated as a transcript for the current page.
// It reports whether the user asked to quit.
func (e *Engine) HandleInput(ctx context.Context, line string) (quit bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	if name, ok := strings.CutPrefix(line, "/go"); ok && (name == "" || name[0] == ' ') {
		e.goTo(ctx, strings.TrimSpace(name))
		return false
	}

	switch strings.ToLower(line) {
	case "/quit", "/exit", "/q":
		return true
	case "/voice":
		e.toggleVoice()
		return false
	case "/stop":
		if v := e.currentVoice(); v != nil {
			v.StopSpeaking()
		}
		return false
	case "/read":
		e.doctor.ReadLast(ctx)
		return false
	case "/copy":
		e.doctor.CopyLast(ctx)
		return false
	case "/help":
		e.printf("%s", helpText)
		return false
	}

	v := e.currentVoice()
	if v == nil {
		e.log.Warn("input before voice controller attached: %q", line)
		return false
	}
	if !v.DispatchCommand(ctx, line, e.Page()) {
		e.toast(ctx, fmt.Sprintf(msgNotUnderstood, line), domain.SeverityWarning)
	}
	return false
}

// goTo is the typed equivalent of the site's menu. Pages with their own
// commands do not navigate by voice.
func (e *Engine) goTo(ctx context.Context, name string) {
	page, err := domain.ParsePage(strings.ToLower(name))
	if err != nil {
		e.toast(ctx, fmt.Sprintf(msgUnknownPage, name), domain.SeverityWarning)
		return
	}
	e.Navigate(ctx, page)
}

func (e *Engine) toggleVoice() {
	v := e.currentVoice()
	if v == nil {
		e.toast(context.Background(), msgVoiceUnavailable, domain.SeverityWarning)
		return
	}
	action := v.Toggle()
	e.log.Debug("toggle: %s", action)
}

const helpText = `说出或输入指令，例如:
  去中药图鉴 / 打开AI医生 / 查看康养方案
  搜索 人参 / 智能搜索 黄芪 / 朗读药材
  发送 / 清空 / 创建方案 / 朗读方案 / 停止
中药图鉴、AI医生和康养方案页面只接受本页指令，用 /go 切换页面。
快捷指令: /go <页面> 切换页面 (index herbs ai_doctor plan evaluation about)
          /voice 开关语音  /stop 停止朗读  /read 重读回复  /copy 复制回复  /quit 退出`

// ── Herbs page ───────────────────────────────────────────────────

func (e *Engine) handleHerbs(ctx context.Context, cmd domain.Command) bool {
	switch cmd.Kind {
	case domain.CommandSearch:
		e.search(ctx, cmd.Arg)
	case domain.CommandSmartSearch:
		e.smartSearch(ctx, cmd.Arg)
	case domain.CommandReadAloud:
		if cmd.Arg != domain.ReadTargetHerb {
			return false
		}
		e.readHerb(ctx)
	default:
		return false
	}
	return true
}

// Results returns the herbs from the last search.
func (e *Engine) Results() []domain.Herb {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]domain.Herb(nil), e.results...)
}

func (e *Engine) search(ctx context.Context, query string) {
	found := e.catalog.Search(query)

	e.mu.Lock()
	e.results = found
	e.mu.Unlock()

	for _, h := range found {
		e.printf("  %s  %s", h.Name, h.Desc)
	}
	if strings.TrimSpace(query) != "" {
		e.toast(ctx, fmt.Sprintf(msgFound, len(found)), domain.SeverityInfo)
	}
}

func (e *Engine) smartSearch(ctx context.Context, query string) {
	if strings.TrimSpace(query) == "" {
		e.toast(ctx, msgNeedHerbName, domain.SeverityWarning)
		return
	}
	e.toast(ctx, msgSmartSearching, domain.SeverityInfo)

	userID, err := e.store.UserID(ctx)
	if err != nil {
		e.log.Warn("user id unavailable: %v", err)
	}
	answer, err := herbs.SmartSearch(ctx, e.qa, userID, query)
	if err != nil {
		e.log.Error("smart search %q: %v", query, err)
		e.toast(ctx, msgSmartSearchFail, domain.SeverityError)
		return
	}
	e.printf("%s", answer)
}

func (e *Engine) readHerb(ctx context.Context) {
	results := e.Results()
	v := e.currentVoice()
	if len(results) == 0 || v == nil {
		e.toast(ctx, msgNoHerbToRead, domain.SeverityWarning)
		return
	}
	v.Speak(herbs.ReadAloudText(results[0]))
}

// ── AI doctor page ───────────────────────────────────────────────

func (e *Engine) handleDoctor(ctx context.Context, cmd domain.Command) bool {
	switch cmd.Kind {
	case domain.CommandDictation:
		e.doctor.SetDraft(ctx, cmd.Arg)
	case domain.CommandSend:
		e.doctor.SendDraft(ctx)
	case domain.CommandClear:
		e.doctor.ClearDraft(ctx)
	default:
		return false
	}
	return true
}

// ── Plan page ────────────────────────────────────────────────────

func (e *Engine) handlePlan(ctx context.Context, cmd domain.Command) bool {
	switch cmd.Kind {
	case domain.CommandCreatePlan:
		e.CreatePlan(ctx)
	case domain.CommandReadAloud:
		if cmd.Arg != domain.ReadTargetPlan {
			return false
		}
		e.readPlan(ctx)
	default:
		return false
	}
	return true
}

// Plan returns the latest wellness plan, or "".
func (e *Engine) Plan() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.plan
}

// CreatePlan asks the Q&A service for a wellness plan based on the saved
// consultation history.
func (e *Engine) CreatePlan(ctx context.Context) (string, error) {
	e.toast(ctx, msgGeneratingPlan, domain.SeverityInfo)

	userID, err := e.store.UserID(ctx)
	if err != nil {
		e.log.Warn("user id unavailable: %v", err)
	}
	history, err := e.store.History(ctx)
	if err != nil {
		e.log.Warn("history unavailable: %v", err)
	}
	if history == nil {
		history = []domain.ChatTurn{}
	}

	resp, err := e.qa.Ask(ctx, domain.QARequest{UserID: userID, Query: planPrompt, History: history})
	if err == nil && (resp.Code != 200 || resp.Data == nil || resp.Data.Answer == "") {
		err = fmt.Errorf("code %d %s", resp.Code, resp.Msg)
	}
	if err != nil {
		e.log.Error("create plan: %v", err)
		e.toast(ctx, msgPlanFailed, domain.SeverityError)
		return "", fmt.Errorf("creating plan: %w", err)
	}

	plan := resp.Data.Answer
	e.mu.Lock()
	e.plan = plan
	e.mu.Unlock()

	e.printf("%s", plan)
	e.toast(ctx, msgPlanReady, domain.SeveritySuccess)
	return plan, nil
}

func (e *Engine) readPlan(ctx context.Context) {
	plan := e.Plan()
	v := e.currentVoice()
	if plan == "" || v == nil {
		e.toast(ctx, msgNoPlan, domain.SeverityWarning)
		return
	}
	v.Speak(conversation.Speakable(plan))
}

func (e *Engine) toast(ctx context.Context, msg string, sev domain.Severity) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, msg, sev); err != nil {
		e.log.Debug("notify failed: %v", err)
	}
}
