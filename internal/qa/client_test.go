package qa

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/sony/gobreaker"

	"github.com/hammamikhairi/tcmvoice/internal/domain"
	"github.com/hammamikhairi/tcmvoice/internal/logger"
)

func TestAskPostsRequest(t *testing.T) {
	var got domain.QARequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/qa" || r.Method != http.MethodPost {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		w.Write([]byte(`{"code":200,"msg":"ok","data":{"answer":"建议按揉神门穴"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", logger.New(logger.LevelOff, nil))
	resp, err := c.Ask(context.Background(), domain.QARequest{
		UserID: "user_1",
		Query:  "失眠",
		History: []domain.ChatTurn{
			{Role: domain.RoleUser, Content: "你好"},
		},
	})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if resp.Code != 200 || resp.Data == nil || resp.Data.Answer != "建议按揉神门穴" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if got.UserID != "user_1" || got.Query != "失眠" || len(got.History) != 1 {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestAskSendsEmptyHistoryArray(t *testing.T) {
	var raw map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&raw)
		w.Write([]byte(`{"code":200,"data":{"answer":"x"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, logger.New(logger.LevelOff, nil))
	if _, err := c.Ask(context.Background(), domain.QARequest{Query: "人参"}); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if h, ok := raw["history"].([]any); !ok || len(h) != 0 {
		t.Fatalf("history = %#v, want []", raw["history"])
	}
}

func TestAskStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, logger.New(logger.LevelOff, nil), WithRetry(0, 0))
	_, err := c.Ask(context.Background(), domain.QARequest{Query: "头痛"})

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusBadGateway {
		t.Fatalf("got %v, want StatusError 502", err)
	}
	if !IsStatus(err) {
		t.Fatal("IsStatus should be true")
	}
}

func TestAskTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, logger.New(logger.LevelOff, nil), WithRetry(0, 0))
	_, err := c.Ask(context.Background(), domain.QARequest{Query: "头痛"})
	if err == nil || IsStatus(err) {
		t.Fatalf("got %v, want a transport error", err)
	}
}

func TestAskRetriesUnavailable(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req domain.QARequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Query != "失眠" {
			t.Errorf("retried body: %+v, %v", req, err)
		}
		w.Write([]byte(`{"code":200,"data":{"answer":"酸枣仁"}}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, logger.New(logger.LevelOff, nil), WithRetry(2, time.Millisecond))
	resp, err := c.Ask(context.Background(), domain.QARequest{Query: "失眠"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if resp.Data == nil || resp.Data.Answer != "酸枣仁" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("server saw %d calls, want 2", n)
	}
}

func TestAskGivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, logger.New(logger.LevelOff, nil), WithRetry(2, time.Millisecond))
	_, err := c.Ask(context.Background(), domain.QARequest{Query: "q"})

	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Fatalf("got %v, want StatusError 503", err)
	}
	if n := calls.Load(); n != 3 {
		t.Fatalf("server saw %d calls, want 3", n)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, logger.New(logger.LevelOff, nil), WithBreaker(2, time.Minute), WithRetry(0, 0))
	for i := 0; i < 2; i++ {
		if _, err := c.Ask(context.Background(), domain.QARequest{Query: "q"}); !IsStatus(err) {
			t.Fatalf("call %d: got %v, want status error", i, err)
		}
	}

	_, err := c.Ask(context.Background(), domain.QARequest{Query: "q"})
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("got %v, want ErrOpenState", err)
	}
	if calls != 2 {
		t.Fatalf("server saw %d calls, want 2", calls)
	}
}

func TestBuildMessages(t *testing.T) {
	msgs := buildMessages(domain.QARequest{
		Query: "最近胃口不好",
		History: []domain.ChatTurn{
			{Role: domain.RoleUser, Content: "你好"},
			{Role: domain.RoleAssistant, Content: "您好，请描述症状"},
			{Role: "system", Content: "ignored"},
		},
	})
	// system prompt + two history turns + query
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4", len(msgs))
	}
}
