package shield

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/hazyhaar/contentvis/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestTraceID_SetsHeaderAndContext(t *testing.T) {
	var seen string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = kit.GetTraceID(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Error("nil logger")
		}
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	got := rec.Header().Get("X-Trace-ID")
	if len(got) != 8 {
		t.Fatalf("X-Trace-ID = %q, want 8 hex chars", got)
	}
	if seen != got {
		t.Fatalf("context trace id %q != header %q", seen, got)
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/", nil))
	if method != http.MethodGet {
		t.Fatalf("method = %s, want GET", method)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    string
	}{
		{"listed", []string{"https://blog.example"}, "https://blog.example", "https://blog.example"},
		{"unlisted", []string{"https://blog.example"}, "https://evil.example", ""},
		{"wildcard", []string{"*"}, "https://any.example", "https://any.example"},
		{"no origin", []string{"*"}, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/url-metrics:store", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()
			CORS(tt.allowed)(okHandler()).ServeHTTP(rec, req)
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Fatalf("Allow-Origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCORS_Preflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/url-metrics:store", nil)
	req.Header.Set("Origin", "https://blog.example")
	rec := httptest.NewRecorder()
	CORS([]string{"*"})(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
}

func TestStoreLock(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	l := NewStoreLock(time.Minute)
	l.now = func() time.Time { return now }
	h := l.Middleware(okHandler())

	do := func(ip string) int {
		req := httptest.NewRequest(http.MethodPost, "/url-metrics:store", nil)
		req.RemoteAddr = ip + ":5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("first submission: %d", code)
	}
	if code := do("10.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("second submission: %d, want 429", code)
	}
	if code := do("10.0.0.2"); code != http.StatusOK {
		t.Fatalf("other client: %d", code)
	}

	now = now.Add(61 * time.Second)
	if code := do("10.0.0.1"); code != http.StatusOK {
		t.Fatalf("after ttl: %d", code)
	}
}

func TestStoreLock_Disabled(t *testing.T) {
	l := NewStoreLock(0)
	for i := 0; i < 3; i++ {
		if !l.acquire("10.0.0.1") {
			t.Fatalf("acquire %d refused with lock disabled", i)
		}
	}
}

func TestExtractIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	if got := ExtractIP(req); got != "203.0.113.9" {
		t.Fatalf("ExtractIP = %q", got)
	}
}

func TestStoreLock_Trusted(t *testing.T) {
	l := NewStoreLock(time.Minute)
	if err := l.Trust("127.0.0.0/8", "::1/128"); err != nil {
		t.Fatal(err)
	}
	if err := l.Trust("not-a-cidr"); err == nil {
		t.Fatal("invalid prefix accepted")
	}
	h := l.Middleware(okHandler())

	do := func(remote, xff string) int {
		req := httptest.NewRequest(http.MethodPost, "/url-metrics:store", nil)
		req.RemoteAddr = remote
		if xff != "" {
			req.Header.Set("X-Forwarded-For", xff)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	for i := range 4 {
		if code := do("127.0.0.1:5555", ""); code != http.StatusOK {
			t.Fatalf("loopback submission %d: %d", i, code)
		}
		if code := do("[::1]:5555", ""); code != http.StatusOK {
			t.Fatalf("ipv6 loopback submission %d: %d", i, code)
		}
	}

	// Visitor proxied by a local reverse proxy.
	if code := do("127.0.0.1:5555", "203.0.113.9"); code != http.StatusOK {
		t.Fatalf("proxied first: %d", code)
	}
	if code := do("127.0.0.1:5555", "203.0.113.9"); code != http.StatusTooManyRequests {
		t.Fatalf("proxied second: %d, want 429", code)
	}

	// Remote peer claiming a loopback client.
	if code := do("198.51.100.7:5555", "127.0.0.1"); code != http.StatusOK {
		t.Fatalf("spoofed first: %d", code)
	}
	if code := do("198.51.100.7:5555", "127.0.0.1"); code != http.StatusTooManyRequests {
		t.Fatalf("spoofed second: %d, want 429", code)
	}
}

func TestDefaultAPIStack_MaxBody(t *testing.T) {
	read := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, err := io.ReadAll(r.Body); err != nil {
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	build := func(limit int64) http.Handler {
		var h http.Handler = read
		stack := DefaultAPIStack(nil, limit)
		for i := len(stack) - 1; i >= 0; i-- {
			h = stack[i](h)
		}
		return h
	}
	do := func(h http.Handler, size int) int {
		req := httptest.NewRequest(http.MethodPost, "/optimize", bytes.NewReader(make([]byte, size)))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	large := build(8 << 20)
	if code := do(large, DefaultMaxBody+1024); code != http.StatusOK {
		t.Errorf("8MiB limit refused a %d byte body: %d", DefaultMaxBody+1024, code)
	}
	if code := do(build(16), 32); code != http.StatusRequestEntityTooLarge {
		t.Errorf("16 byte limit: %d", code)
	}
	if code := do(build(0), DefaultMaxBody+1); code != http.StatusRequestEntityTooLarge {
		t.Errorf("default limit: %d", code)
	}
}
