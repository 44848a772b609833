package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const (
	mutantBody = `{"dna":["ATGCGA","CAGTGC","TTATGT","AGAAGG","CCCCTA","TCACTG"]}`
	humanBody  = `{"dna":["ATGCGA","CAGTGC","TTATTT","AGACGG","GCGTCA","TCACTG"]}`
)

func newTestServer(t *testing.T) *Server {
	return newTestServerWith(t, NewMemoryStore(), Default())
}

func newTestServerWith(t *testing.T, store RecordStore, cfg *Config) *Server {
	t.Helper()
	srv := NewServer(store, cfg, discardLogger())
	t.Cleanup(srv.Close)
	return srv
}

func postMutant(srv http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", "/mutant", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func getStats(t *testing.T, srv http.Handler) Stats {
	t.Helper()
	req := httptest.NewRequest("GET", "/stats", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("stats: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var st Stats
	if err := json.NewDecoder(w.Body).Decode(&st); err != nil {
		t.Fatalf("decode stats: %v", err)
	}
	return st
}

func TestIndexRoute(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("expected application/json, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), "Mutant DNA Analyzer") {
		t.Fatal("index does not contain expected welcome message")
	}
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if strings.TrimSpace(w.Body.String()) != `{"status":"ok"}` {
		t.Fatalf("unexpected body: %s", w.Body.String())
	}
}

func TestHealthStoreDown(t *testing.T) {
	srv := newTestServerWith(t, &failingStore{err: errors.New("down")}, Default())

	req := httptest.NewRequest("GET", "/health", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

func TestFullClassificationFlow(t *testing.T) {
	srv := newTestServer(t)

	// Empty stats: no ratio yet.
	st := getStats(t, srv)
	if st.CountMutant != 0 || st.CountHuman != 0 || st.Ratio != nil {
		t.Fatalf("expected empty stats, got %+v", st)
	}

	w := postMutant(srv, mutantBody)
	if w.Code != http.StatusOK {
		t.Fatalf("mutant: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Message string `json:"message"`
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Message != "DNA is mutant" {
		t.Fatalf("unexpected message %q", resp.Message)
	}

	w = postMutant(srv, humanBody)
	if w.Code != http.StatusForbidden {
		t.Fatalf("human: expected 403, got %d: %s", w.Code, w.Body.String())
	}
	json.NewDecoder(w.Body).Decode(&resp)
	if resp.Message != "DNA is not mutant" {
		t.Fatalf("unexpected message %q", resp.Message)
	}

	st = getStats(t, srv)
	if st.CountMutant != 1 || st.CountHuman != 1 {
		t.Fatalf("expected 1/1, got %+v", st)
	}
	if st.Ratio == nil || *st.Ratio != 1 {
		t.Fatalf("expected ratio 1, got %v", st.Ratio)
	}
}

func TestRepeatedSequenceIsStoredOnce(t *testing.T) {
	srv := newTestServer(t)

	for range 3 {
		if w := postMutant(srv, mutantBody); w.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", w.Code)
		}
		if w := postMutant(srv, humanBody); w.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", w.Code)
		}
	}

	st := getStats(t, srv)
	if st.CountMutant != 1 || st.CountHuman != 1 {
		t.Fatalf("expected each sequence stored once, got %+v", st)
	}
}

func TestMutantValidation(t *testing.T) {
	srv := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"dna":`},
		{"wrong type", `{"dna":"ATGC"}`},
		{"missing dna", `{}`},
		{"empty dna", `{"dna":[]}`},
		{"not square", `{"dna":["ATG","CA","TTA"]}`},
		{"invalid base", `{"dna":["ATGC","CAGT","TT-T","AGAA"]}`},
		{"lowercase", `{"dna":["atgc","cagt","ttat","agaa"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postMutant(srv, tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
			var resp map[string]string
			json.NewDecoder(w.Body).Decode(&resp)
			if resp["error"] == "" {
				t.Fatal("expected an error message")
			}
		})
	}

	if st := getStats(t, srv); st.CountMutant+st.CountHuman != 0 {
		t.Fatalf("invalid input must not be stored, got %+v", st)
	}
}

func TestMutantTooLarge(t *testing.T) {
	cfg := Default()
	cfg.DNA.MaxSize = 4
	srv := newTestServerWith(t, NewMemoryStore(), cfg)

	if w := postMutant(srv, mutantBody); w.Code != http.StatusBadRequest {
		t.Fatalf("grid above max size: expected 400, got %d", w.Code)
	}

	cfg = Default()
	cfg.Server.MaxBodyBytes = 16
	srv = newTestServerWith(t, NewMemoryStore(), cfg)

	if w := postMutant(srv, mutantBody); w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized body: expected 413, got %d", w.Code)
	}
}

func TestStoreFailures(t *testing.T) {
	srv := newTestServerWith(t, &failingStore{err: errors.New("disk full")}, Default())

	w := postMutant(srv, mutantBody)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("mutant: expected 500, got %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "disk full") {
		t.Fatal("store error details should not reach the client")
	}

	req := httptest.NewRequest("GET", "/stats", nil)
	w = httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("stats: expected 500, got %d", w.Code)
	}
}

func TestNotFound(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/api/unknown", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for key, expected := range headers {
		if got := w.Header().Get(key); got != expected {
			t.Errorf("header %s: expected %q, got %q", key, expected, got)
		}
	}

	csp := w.Header().Get("Content-Security-Policy")
	if csp == "" {
		t.Error("Content-Security-Policy header missing")
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3, time.Second)

	// First 3 should pass.
	for i := range 3 {
		if !rl.allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// 4th should be blocked.
	if rl.allow("1.2.3.4") {
		t.Fatal("4th request should be rate limited")
	}

	// Different IP should still be allowed.
	if !rl.allow("5.6.7.8") {
		t.Fatal("different IP should be allowed")
	}
	rl.stop()
}

func TestRateLimiterSweep(t *testing.T) {
	rl := newRateLimiter(3, time.Second)
	defer rl.stop()

	rl.allow("1.2.3.4")
	rl.allow("5.6.7.8")
	rl.mu.Lock()
	rl.visitors["5.6.7.8"].lastSeen = time.Now().Add(-2 * limiterIdleAfter)
	rl.mu.Unlock()

	rl.sweep(time.Now())

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["1.2.3.4"]; !ok {
		t.Fatal("recent visitor should be kept")
	}
	if _, ok := rl.visitors["5.6.7.8"]; ok {
		t.Fatal("idle visitor should be dropped")
	}
}

func TestServerCloseStopsRateLimiter(t *testing.T) {
	srv := NewServer(NewMemoryStore(), Default(), discardLogger())
	rl := srv.mutantRL
	if rl == nil {
		t.Fatal("default config should enable rate limiting")
	}

	srv.Close()
	select {
	case <-rl.done:
	case <-time.After(time.Second):
		t.Fatal("sweep goroutine still running after Close")
	}

	// Closing twice is harmless.
	srv.Close()
}

func TestServerCloseWithoutRateLimit(t *testing.T) {
	cfg := Default()
	cfg.Server.RateLimit = 0
	srv := NewServer(NewMemoryStore(), cfg, discardLogger())
	if srv.mutantRL != nil {
		t.Fatal("rate limit 0 should disable the limiter")
	}
	srv.Close()
}

func TestMutantRateLimited(t *testing.T) {
	cfg := Default()
	cfg.Server.RateLimit = 2
	srv := newTestServerWith(t, NewMemoryStore(), cfg)

	postFrom := func(port string) int {
		req := httptest.NewRequest("POST", "/mutant", strings.NewReader(mutantBody))
		req.RemoteAddr = "192.0.2.1:" + port
		w := httptest.NewRecorder()
		srv.ServeHTTP(w, req)
		return w.Code
	}

	// The limit is per host, whatever the source port.
	postFrom("1000")
	postFrom("1001")
	if code := postFrom("1002"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := clientIP(req); got != "2001:db8::1" {
		t.Fatalf("expected host without port, got %q", got)
	}
	req.RemoteAddr = "not-an-address"
	if got := clientIP(req); got != "not-an-address" {
		t.Fatalf("expected raw address fallback, got %q", got)
	}
}

func TestHTTPServer(t *testing.T) {
	srv := newTestServer(t)

	cfg := Default().Server
	cfg.Port = 9090
	hs := srv.HTTPServer(cfg)
	if hs.Addr != ":9090" {
		t.Fatalf("unexpected addr %q", hs.Addr)
	}
	if hs.Handler != srv {
		t.Fatal("plain server should use the Server as handler")
	}

	cfg.H2C = true
	if hs := srv.HTTPServer(cfg); hs.Handler == srv {
		t.Fatal("h2c server should wrap the handler")
	}
}

func TestStatsEvents(t *testing.T) {
	srv := newTestServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, "GET", ts.URL+"/stats/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("expected text/event-stream, got %q", ct)
	}

	br := bufio.NewReader(resp.Body)
	readStats := func() Stats {
		t.Helper()
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Fatalf("read event: %v", err)
			}
			if data, ok := strings.CutPrefix(line, "data: "); ok {
				var st Stats
				if err := json.Unmarshal([]byte(data), &st); err != nil {
					t.Fatalf("decode event %q: %v", data, err)
				}
				return st
			}
		}
	}

	if st := readStats(); st.CountMutant != 0 || st.CountHuman != 0 {
		t.Fatalf("expected empty initial stats, got %+v", st)
	}

	post, err := http.Post(ts.URL+"/mutant", "application/json", strings.NewReader(mutantBody))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	post.Body.Close()

	if st := readStats(); st.CountMutant != 1 {
		t.Fatalf("expected one mutant after post, got %+v", st)
	}
}
