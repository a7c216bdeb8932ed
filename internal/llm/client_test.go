package llm

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"planwise/internal/apperr"
	"planwise/internal/config"
)

func newTestClient(url string) *Client {
	mc := config.ModelConfig{Name: "test-model", URL: url}
	return NewClient(mc, "", 5*time.Second)
}

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{`Sure! Here is the plan: {"a":{"b":2}} hope it helps`, `{"a":{"b":2}}`},
		{`{"s":"braces { inside } string"}`, `{"s":"braces { inside } string"}`},
		{`no json here`, ``},
		{`{"unterminated":`, ``},
	}
	for _, c := range cases {
		if got := ExtractJSONObject(c.in); got != c.want {
			t.Errorf("ExtractJSONObject(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestCompleteJSON_ParsesWrappedObject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[{"message":{"content":"Here you go: {\"impact\": 7.5, \"reasoning\": \"direct\"}"}}]}`))
	}))
	defer srv.Close()

	var out struct {
		Impact    float64 `json:"impact"`
		Reasoning string  `json:"reasoning"`
	}
	if err := newTestClient(srv.URL).CompleteJSON(context.Background(), "score this", &out); err != nil {
		t.Fatalf("CompleteJSON failed: %v", err)
	}
	if out.Impact != 7.5 || out.Reasoning != "direct" {
		t.Errorf("unexpected parse result: %+v", out)
	}
}

func TestComplete_RateLimitIsRetriable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), "hi")
	if err == nil {
		t.Fatal("expected error")
	}
	if !apperr.Retriable(err) {
		t.Errorf("429 should be retriable, got %v", err)
	}
}

func TestComplete_AuthFailureIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Complete(context.Background(), "hi")
	if apperr.KindOf(err) != apperr.KindFatalUpstream {
		t.Errorf("401 should be fatal upstream, got %v", err)
	}
}

func TestComplete_TimeoutKind(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewClient(config.ModelConfig{Name: "m", URL: srv.URL}, "", 20*time.Millisecond)
	_, err := c.Complete(context.Background(), "hi")
	if apperr.KindOf(err) != apperr.KindTimeout {
		t.Errorf("expected timeout kind, got %v", err)
	}
}

func TestComplete_RespectsCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(srv.URL).Complete(ctx, "hi")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
