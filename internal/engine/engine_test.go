package engine

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/hammamikhairi/tcmvoice/internal/command"
	"github.com/hammamikhairi/tcmvoice/internal/conversation"
	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/herbs"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
	"github.com/hammamikhairi/tcmvoice/internal/storage"
	"github.com/hammamikhairi/tcmvoice/internal/voice"
)

// fakeVoice routes transcripts through the real parser and the engine's
// router, and records what would have been spoken.
type fakeVoice struct {
	parser *command.Parser
	router *command.Router

	mu      sync.Mutex
	spoken  []string
	stopped int
	toggles int
}

func (v *fakeVoice) Speak(text string, opts ...voice.SpeakOption) <-chan error {
	v.mu.Lock()
	v.spoken = append(v.spoken, text)
	v.mu.Unlock()
	ch := make(chan error, 1)
	ch <- nil
	return ch
}

func (v *fakeVoice) StopSpeaking() {
	v.mu.Lock()
	v.stopped++
	v.mu.Unlock()
}

func (v *fakeVoice) Toggle() voice.ToggleAction {
	v.mu.Lock()
	v.toggles++
	v.mu.Unlock()
	return voice.ToggleStartedListening
}

func (v *fakeVoice) DispatchCommand(ctx context.Context, transcript string, page domain.PageID) bool {
	cmds := v.parser.Parse(transcript)
	if cmds[0].Kind == domain.CommandStop {
		v.StopSpeaking()
		return true
	}
	_, ok := v.router.Route(ctx, page, cmds)
	return ok
}

type stubQA struct {
	mu   sync.Mutex
	reqs []domain.QARequest
	resp *domain.QAResponse
	err  error
}

func (s *stubQA) Ask(ctx context.Context, req domain.QARequest) (*domain.QAResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqs = append(s.reqs, req)
	return s.resp, s.err
}

type notes struct {
	mu   sync.Mutex
	msgs []string
}

func (n *notes) Notify(ctx context.Context, msg string, sev domain.Severity) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *notes) last() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.msgs) == 0 {
		return ""
	}
	return n.msgs[len(n.msgs)-1]
}

func (n *notes) has(msg string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, m := range n.msgs {
		if m == msg {
			return true
		}
	}
	return false
}

type fixture struct {
	eng   *Engine
	voice *fakeVoice
	qa    *stubQA
	notes *notes
	doc   *conversation.Doctor
	store domain.ProfileStore
	out   *strings.Builder
}

func setupEngine(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	log := logger.New(logger.LevelOff, nil)

	catalog, err := herbs.NewCatalog(log)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	client := &stubQA{resp: &domain.QAResponse{Code: 200, Data: &domain.QAData{Answer: "**多喝温水**"}}}
	n := &notes{}
	store := storage.NewMemoryStore(log)
	fv := &fakeVoice{parser: command.NewParser(log)}
	doc := conversation.NewDoctor(client, store, n, func(text string) <-chan error { return fv.Speak(text) }, log,
		conversation.WithAutoReadDelay(0))

	out := &strings.Builder{}
	var mu sync.Mutex
	opts = append([]Option{WithOutput(func(format string, a ...interface{}) {
		mu.Lock()
		defer mu.Unlock()
		out.WriteString(strings.TrimSpace(strings.ReplaceAll(format, "%s", "")))
		for _, v := range a {
			if s, ok := v.(string); ok {
				out.WriteString(s)
			}
		}
	})}, opts...)

	eng := New(catalog, doc, client, store, n, log, opts...)
	fv.router = eng.Router()
	eng.SetVoice(fv)
	return &fixture{eng: eng, voice: fv, qa: client, notes: n, doc: doc, store: store, out: out}
}

func TestNavigate(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if f.eng.Page() != domain.PageIndex {
		t.Fatalf("initial page = %s", f.eng.Page())
	}

	tests := []struct {
		line string
		want domain.PageID
	}{
		{"去中药图鉴", domain.PageHerbs},
		{"打开康养方案", domain.PagePlan},
		{"返回首页", domain.PageIndex},
		{"我想了解关于你们", domain.PageAbout},
	}
	for _, tt := range tests {
		f.eng.HandleInput(ctx, "/go index")
		f.eng.HandleInput(ctx, tt.line)
		if got := f.eng.Page(); got != tt.want {
			t.Fatalf("%q: page = %s, want %s", tt.line, got, tt.want)
		}
		if want := "已进入" + tt.want.Title(); f.notes.last() != want {
			t.Fatalf("%q: toast = %q, want %q", tt.line, f.notes.last(), want)
		}
	}
}

func TestPagesWithCommandsDoNotNavigate(t *testing.T) {
	for _, page := range []domain.PageID{domain.PageHerbs, domain.PagePlan} {
		f := setupEngine(t, WithInitialPage(page))
		f.eng.HandleInput(context.Background(), "返回首页")
		if f.eng.Page() != page {
			t.Fatalf("%s: navigated to %s", page, f.eng.Page())
		}
		if !f.notes.has("未识别的指令: 返回首页") {
			t.Fatalf("%s: toasts = %q", page, f.notes.msgs)
		}
	}
}

func TestGoCommand(t *testing.T) {
	f := setupEngine(t, WithInitialPage(domain.PageHerbs))
	ctx := context.Background()

	f.eng.HandleInput(ctx, "/go plan")
	if f.eng.Page() != domain.PagePlan || f.notes.last() != "已进入康养方案" {
		t.Fatalf("page = %s, toast = %q", f.eng.Page(), f.notes.last())
	}

	f.eng.HandleInput(ctx, "/go foo")
	if f.eng.Page() != domain.PagePlan || f.notes.last() != "未知页面: foo" {
		t.Fatalf("page = %s, toast = %q", f.eng.Page(), f.notes.last())
	}

	f.eng.HandleInput(ctx, "/goto herbs")
	if f.eng.Page() != domain.PagePlan {
		t.Fatalf("/goto should not navigate, page = %s", f.eng.Page())
	}
}

func TestInitialPageOption(t *testing.T) {
	f := setupEngine(t, WithInitialPage(domain.PageAIDoctor))
	if f.eng.Page() != domain.PageAIDoctor {
		t.Fatalf("page = %s", f.eng.Page())
	}
}

func TestHerbSearchAndReadAloud(t *testing.T) {
	f := setupEngine(t, WithInitialPage(domain.PageHerbs))
	ctx := context.Background()

	f.eng.HandleInput(ctx, "朗读药材")
	if f.notes.last() != msgNoHerbToRead {
		t.Fatalf("toast = %q", f.notes.last())
	}

	f.eng.HandleInput(ctx, "搜索 人参")
	if f.notes.last() != "找到 1 个相关中药" {
		t.Fatalf("toast = %q", f.notes.last())
	}
	if r := f.eng.Results(); len(r) != 1 || r[0].Name != "人参" {
		t.Fatalf("results = %+v", r)
	}

	f.eng.HandleInput(ctx, "朗读药材")
	if len(f.voice.spoken) != 1 || !strings.HasPrefix(f.voice.spoken[0], "人参，") {
		t.Fatalf("spoken = %q", f.voice.spoken)
	}
}

func TestSmartSearch(t *testing.T) {
	f := setupEngine(t, WithInitialPage(domain.PageHerbs))
	ctx := context.Background()

	f.eng.HandleInput(ctx, "智能搜索")
	if f.notes.last() != msgNeedHerbName {
		t.Fatalf("toast = %q", f.notes.last())
	}
	if len(f.qa.reqs) != 0 {
		t.Fatal("empty smart search must not call the service")
	}

	f.eng.HandleInput(ctx, "智能搜索 黄芪")
	if len(f.qa.reqs) != 1 || !strings.Contains(f.qa.reqs[0].Query, "黄芪") {
		t.Fatalf("requests = %+v", f.qa.reqs)
	}
	if !strings.Contains(f.out.String(), "多喝温水") {
		t.Fatalf("output = %q", f.out.String())
	}
	if len(f.eng.Results()) != 0 {
		t.Fatal("smart search must not run a plain search too")
	}

	f.qa.err = errors.New("connection refused")
	f.eng.HandleInput(ctx, "智能搜索 当归")
	if f.notes.last() != msgSmartSearchFail {
		t.Fatalf("toast = %q", f.notes.last())
	}
}

func TestDoctorPage(t *testing.T) {
	f := setupEngine(t, WithInitialPage(domain.PageAIDoctor))
	ctx := context.Background()

	f.eng.HandleInput(ctx, "最近总是失眠")
	if f.doc.Draft() != "最近总是失眠" {
		t.Fatalf("draft = %q", f.doc.Draft())
	}

	f.eng.HandleInput(ctx, "发送")
	if len(f.qa.reqs) != 1 || f.qa.reqs[0].Query != "最近总是失眠" {
		t.Fatalf("requests = %+v", f.qa.reqs)
	}
	if f.doc.LastAnswer() != "**多喝温水**" {
		t.Fatalf("last answer = %q", f.doc.LastAnswer())
	}

	f.eng.HandleInput(ctx, "头痛")
	f.eng.HandleInput(ctx, "清空")
	if f.doc.Draft() != "" {
		t.Fatalf("draft = %q after clear", f.doc.Draft())
	}

	// Dictation on this page captures everything, navigation words included.
	f.eng.HandleInput(ctx, "中药")
	if f.eng.Page() != domain.PageAIDoctor || f.doc.Draft() != "中药" {
		t.Fatalf("page = %s, draft = %q", f.eng.Page(), f.doc.Draft())
	}
}

func TestPlanPage(t *testing.T) {
	f := setupEngine(t, WithInitialPage(domain.PagePlan))
	ctx := context.Background()

	f.eng.HandleInput(ctx, "朗读方案")
	if f.notes.last() != msgNoPlan {
		t.Fatalf("toast = %q", f.notes.last())
	}

	f.store.AppendHistory(ctx, domain.ChatTurn{Role: domain.RoleUser, Content: "失眠"})
	f.eng.HandleInput(ctx, "创建方案")
	if len(f.qa.reqs) != 1 || f.qa.reqs[0].Query != planPrompt || len(f.qa.reqs[0].History) != 1 {
		t.Fatalf("requests = %+v", f.qa.reqs)
	}
	if f.eng.Plan() != "**多喝温水**" || f.notes.last() != msgPlanReady {
		t.Fatalf("plan = %q, toast = %q", f.eng.Plan(), f.notes.last())
	}

	f.eng.HandleInput(ctx, "朗读方案")
	if len(f.voice.spoken) != 1 || f.voice.spoken[0] != "多喝温水" {
		t.Fatalf("spoken = %q", f.voice.spoken)
	}
	if f.eng.Page() != domain.PagePlan {
		t.Fatalf("page = %s", f.eng.Page())
	}
}

func TestCreatePlanFailure(t *testing.T) {
	tests := []struct {
		name string
		resp *domain.QAResponse
		err  error
	}{
		{"transport", nil, errors.New("timeout")},
		{"service code", &domain.QAResponse{Code: 500, Msg: "busy"}, nil},
		{"empty answer", &domain.QAResponse{Code: 200, Data: &domain.QAData{}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupEngine(t)
			f.qa.resp, f.qa.err = tt.resp, tt.err

			if _, err := f.eng.CreatePlan(context.Background()); err == nil {
				t.Fatal("expected error")
			}
			if f.notes.last() != msgPlanFailed || f.eng.Plan() != "" {
				t.Fatalf("toast = %q, plan = %q", f.notes.last(), f.eng.Plan())
			}
		})
	}
}

func TestStopWinsOnEveryPage(t *testing.T) {
	for _, page := range []domain.PageID{domain.PageIndex, domain.PageHerbs, domain.PageAIDoctor, domain.PagePlan} {
		f := setupEngine(t, WithInitialPage(page))
		f.eng.HandleInput(context.Background(), "停止朗读")
		if f.voice.stopped != 1 {
			t.Fatalf("page %s: stop count = %d", page, f.voice.stopped)
		}
	}
}

func TestSlashCommands(t *testing.T) {
	f := setupEngine(t)
	ctx := context.Background()

	if f.eng.HandleInput(ctx, "/voice") || f.voice.toggles != 1 {
		t.Fatalf("toggles = %d", f.voice.toggles)
	}
	if f.eng.HandleInput(ctx, "/stop") || f.voice.stopped != 1 {
		t.Fatalf("stopped = %d", f.voice.stopped)
	}

	f.eng.HandleInput(ctx, "/read")
	if f.notes.last() != "没有可朗读的内容" {
		t.Fatalf("toast = %q", f.notes.last())
	}

	f.eng.HandleInput(ctx, "/help")
	if !strings.Contains(f.out.String(), "/voice") {
		t.Fatalf("help output = %q", f.out.String())
	}

	for _, q := range []string{"/quit", "/exit", " /Q "} {
		if !f.eng.HandleInput(ctx, q) {
			t.Fatalf("%q should quit", q)
		}
	}
	if f.eng.HandleInput(ctx, "   ") {
		t.Fatal("blank line should not quit")
	}
}

func TestUnrecognizedInput(t *testing.T) {
	f := setupEngine(t)
	f.eng.HandleInput(context.Background(), "你好")
	if !f.notes.has("未识别的指令: 你好") {
		t.Fatalf("toasts = %q", f.notes.msgs)
	}
	if f.eng.Page() != domain.PageIndex {
		t.Fatalf("page = %s", f.eng.Page())
	}
}

func TestInputWithoutVoice(t *testing.T) {
	f := setupEngine(t)
	f.eng.SetVoice(nil)

	f.eng.HandleInput(context.Background(), "/voice")
	if f.notes.last() != msgVoiceUnavailable {
		t.Fatalf("toast = %q", f.notes.last())
	}
	if f.eng.HandleInput(context.Background(), "去中药图鉴") {
		t.Fatal("should not quit")
	}
}
