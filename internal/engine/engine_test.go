package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

func strptr(s string) *string { return &s }

func executeAndWait(t *testing.T, e *Engine, opts Options, cb Callbacks) {
	t.Helper()
	call := e.Execute(context.Background(), opts, cb)
	select {
	case <-call.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("execution did not settle")
	}
}

func TestExecuteStreamsAndDescribes(t *testing.T) {
	payload := bytes.Repeat([]byte("abcdefgh"), 8192) // 64 KiB, forces >1 chunk
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write(payload)
	}))
	defer srv.Close()

	var gotStatus int
	var chunks int
	var lastTotal int64
	var desc *ResponseDescriptor
	executeAndWait(t, New(nil), Options{URL: srv.URL, Method: "GET", Timeout: 5 * time.Second}, Callbacks{
		OnResponse: func(status int, _ map[string]string) { gotStatus = status },
		OnResponseData: func(chunk []byte, total int64) {
			chunks++
			lastTotal = total
		},
		OnResponseEnd: func(d *ResponseDescriptor) { desc = d },
		OnError:       func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	if gotStatus != 200 {
		t.Errorf("status = %d", gotStatus)
	}
	if chunks < 2 {
		t.Errorf("expected multiple chunks, got %d", chunks)
	}
	if lastTotal != int64(len(payload)) {
		t.Errorf("running total = %d, want %d", lastTotal, len(payload))
	}
	if desc == nil {
		t.Fatal("no descriptor")
	}
	if desc.BodyByteLength != int64(len(payload)) || !bytes.Equal(desc.Body, payload) {
		t.Error("descriptor body does not match payload")
	}
	if desc.ClassifiedAs != ClassText {
		t.Errorf("classified as %s", desc.ClassifiedAs)
	}
	if desc.Timing.Total <= 0 {
		t.Error("timing total missing")
	}
}

func TestHeadNeverSendsBody(t *testing.T) {
	var gotLength int64 = -1
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLength = r.ContentLength
	}))
	defer srv.Close()

	executeAndWait(t, New(nil), Options{
		URL:     srv.URL,
		Method:  "HEAD",
		Body:    StringBody(`{"should":"be dropped"}`),
		Timeout: 5 * time.Second,
	}, Callbacks{
		OnError: func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	if gotLength != 0 {
		t.Errorf("HEAD request carried a body, content length %d", gotLength)
	}
}

func TestSuppressedHeader(t *testing.T) {
	var sawUserAgent bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, sawUserAgent = r.Header["User-Agent"]
	}))
	defer srv.Close()

	executeAndWait(t, New(nil), Options{
		URL:     srv.URL,
		Method:  "GET",
		Headers: map[string]*string{"User-Agent": nil},
		Timeout: 5 * time.Second,
	}, Callbacks{
		OnError: func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	if sawUserAgent {
		t.Error("nil header value should suppress the default User-Agent")
	}
}

func TestRedirectChainRecorded(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/a":
			http.Redirect(w, r, "/b", http.StatusFound)
		case "/b":
			http.Redirect(w, r, "/final", http.StatusFound)
		default:
			w.Write([]byte("done"))
		}
	}))
	defer srv.Close()

	var desc *ResponseDescriptor
	var hops int
	executeAndWait(t, New(nil), Options{
		URL:            srv.URL + "/a",
		Method:         "GET",
		FollowRedirect: true,
		Timeout:        5 * time.Second,
	}, Callbacks{
		OnResponseEnd:  func(d *ResponseDescriptor) { desc = d },
		BeforeRedirect: func(next *http.Request, via []*http.Request) error { hops++; return nil },
		OnError:        func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	if desc == nil {
		t.Fatal("no descriptor")
	}
	if desc.StatusCode != 200 {
		t.Errorf("status = %d", desc.StatusCode)
	}
	if len(desc.RedirectChain) != 2 {
		t.Errorf("redirect chain = %v", desc.RedirectChain)
	}
	if hops != 2 {
		t.Errorf("BeforeRedirect fired %d times", hops)
	}
	if !strings.HasSuffix(desc.FinalURL, "/final") {
		t.Errorf("final url = %s", desc.FinalURL)
	}
}

func TestRedirectNotFollowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/elsewhere", http.StatusFound)
	}))
	defer srv.Close()

	var desc *ResponseDescriptor
	executeAndWait(t, New(nil), Options{
		URL:            srv.URL,
		Method:         "GET",
		FollowRedirect: false,
		Timeout:        5 * time.Second,
	}, Callbacks{
		OnResponseEnd: func(d *ResponseDescriptor) { desc = d },
		OnError:       func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	if desc == nil {
		t.Fatal("no descriptor")
	}
	if desc.StatusCode != http.StatusFound {
		t.Errorf("status = %d, want the raw 302", desc.StatusCode)
	}
	if len(desc.RedirectChain) != 0 {
		t.Errorf("no hops expected, got %v", desc.RedirectChain)
	}
}

func TestBeforeRedirectCanStopChain(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/next", http.StatusFound)
	}))
	defer srv.Close()

	var gotErr error
	executeAndWait(t, New(nil), Options{
		URL:            srv.URL,
		Method:         "GET",
		FollowRedirect: true,
		Timeout:        5 * time.Second,
	}, Callbacks{
		BeforeRedirect: func(*http.Request, []*http.Request) error {
			return errors.New("redirect rejected")
		},
		OnResponseEnd: func(*ResponseDescriptor) { t.Error("chain should have been stopped") },
		OnError:       func(err error) { gotErr = err },
	})

	if gotErr == nil || !strings.Contains(gotErr.Error(), "redirect rejected") {
		t.Errorf("error = %v", gotErr)
	}
}

func TestCancellation(t *testing.T) {
	firstChunk := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Write(bytes.Repeat([]byte("x"), 1024))
		w.(http.Flusher).Flush()
		<-release
		w.Write([]byte("tail"))
	}))
	defer srv.Close()
	defer close(release)

	var sawEnd atomic.Bool
	var dataAfterCancel atomic.Bool
	var cancelled atomic.Bool
	var gotErr error

	call := New(nil).Execute(context.Background(), Options{URL: srv.URL, Method: "GET"}, Callbacks{
		OnResponseData: func([]byte, int64) {
			if cancelled.Load() {
				dataAfterCancel.Store(true)
			}
			select {
			case <-firstChunk:
			default:
				close(firstChunk)
			}
		},
		OnResponseEnd: func(*ResponseDescriptor) { sawEnd.Store(true) },
		OnError:       func(err error) { gotErr = err },
	})

	select {
	case <-firstChunk:
	case <-time.After(5 * time.Second):
		t.Fatal("never received a chunk")
	}
	cancelled.Store(true)
	call.Cancel()
	<-call.Done()

	if !errors.Is(gotErr, ErrCancelled) {
		t.Errorf("error = %v, want ErrCancelled", gotErr)
	}
	if sawEnd.Load() {
		t.Error("OnResponseEnd fired after cancel")
	}
	if dataAfterCancel.Load() {
		t.Error("OnResponseData fired after cancel")
	}
	if !call.Cancelled() {
		t.Error("Cancelled() should report true")
	}
}

func TestCancelFromDataCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		chunk := bytes.Repeat([]byte("x"), 1024)
		for {
			if _, err := w.Write(chunk); err != nil {
				return
			}
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(10 * time.Millisecond):
			}
		}
	}))
	defer srv.Close()

	var once sync.Once
	callCh := make(chan *Call, 1)
	var sawEnd atomic.Bool
	var gotErr error

	// Cancelling from inside a data callback enforces a byte cap; the execute
	// goroutine must not block on itself.
	call := New(nil).Execute(context.Background(), Options{URL: srv.URL, Method: "GET"}, Callbacks{
		OnResponseData: func([]byte, int64) {
			once.Do(func() {
				c := <-callCh
				c.Cancel()
			})
		},
		OnResponseEnd: func(*ResponseDescriptor) { sawEnd.Store(true) },
		OnError:       func(err error) { gotErr = err },
	})
	callCh <- call

	select {
	case <-call.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("call never settled after cancel from a callback")
	}

	if !errors.Is(gotErr, ErrCancelled) {
		t.Errorf("error = %v, want ErrCancelled", gotErr)
	}
	if sawEnd.Load() {
		t.Error("OnResponseEnd fired after cancel")
	}
	if !call.Cancelled() {
		t.Error("Cancelled() should report true")
	}
}

func TestAutoDecompressGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != defaultAcceptEncoding {
			t.Errorf("Accept-Encoding = %q", r.Header.Get("Accept-Encoding"))
		}
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write([]byte("hello gzip"))
		zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Set("Content-Type", "text/plain")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	var desc *ResponseDescriptor
	executeAndWait(t, New(nil), Options{URL: srv.URL, Method: "GET", Timeout: 5 * time.Second}, Callbacks{
		OnResponseEnd: func(d *ResponseDescriptor) { desc = d },
		OnError:       func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	if desc == nil {
		t.Fatal("no descriptor")
	}
	if string(desc.Body) != "hello gzip" {
		t.Errorf("body = %q, want decompressed text", desc.Body)
	}
}

func TestCustomAcceptEncodingPassthrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "identity" {
			t.Errorf("Accept-Encoding = %q, want verbatim identity", r.Header.Get("Accept-Encoding"))
		}
		var buf bytes.Buffer
		zw := gzip.NewWriter(&buf)
		zw.Write([]byte("still compressed"))
		zw.Close()
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	var desc *ResponseDescriptor
	executeAndWait(t, New(nil), Options{
		URL:     srv.URL,
		Method:  "GET",
		Headers: map[string]*string{"Accept-Encoding": strptr("identity")},
		Timeout: 5 * time.Second,
	}, Callbacks{
		OnResponseEnd: func(d *ResponseDescriptor) { desc = d },
		OnError:       func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	if desc == nil {
		t.Fatal("no descriptor")
	}
	if string(desc.Body) == "still compressed" {
		t.Error("body should stay raw when the script set its own Accept-Encoding")
	}
}

func TestConnectionCloseDisablesKeepAlive(t *testing.T) {
	var sawClose atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Close {
			sawClose.Store(true)
		}
	}))
	defer srv.Close()

	executeAndWait(t, New(nil), Options{
		URL:     srv.URL,
		Method:  "GET",
		Headers: map[string]*string{"Connection": strptr("close")},
		Timeout: 5 * time.Second,
	}, Callbacks{
		OnError: func(err error) { t.Errorf("unexpected error: %v", err) },
	})

	if !sawClose.Load() {
		t.Error("Connection: close should reach the server")
	}
}

func TestRetryHook(t *testing.T) {
	var attempts []int
	var gotErr error
	executeAndWait(t, New(nil), Options{
		URL:     "http://127.0.0.1:1/unreachable",
		Method:  "GET",
		Timeout: 2 * time.Second,
	}, Callbacks{
		BeforeRetry: func(_ *Options, attempt int, err error) bool {
			attempts = append(attempts, attempt)
			return true
		},
		OnError: func(err error) { gotErr = err },
	})

	if len(attempts) != 3 {
		t.Errorf("attempts = %v, want the hook consulted 3 times", attempts)
	}
	for i, a := range attempts {
		if a != i+1 {
			t.Errorf("attempt numbering = %v", attempts)
			break
		}
	}
	if gotErr == nil {
		t.Error("exhausted retries should still report the error")
	}
}

func TestNoRetryWithoutHook(t *testing.T) {
	var gotErr error
	start := time.Now()
	executeAndWait(t, New(nil), Options{
		URL:     "http://127.0.0.1:1/unreachable",
		Method:  "GET",
		Timeout: 2 * time.Second,
	}, Callbacks{
		OnError: func(err error) { gotErr = err },
	})
	if gotErr == nil {
		t.Fatal("expected an error")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("no hook should mean a single attempt")
	}
}

func TestFileBodyErrorIsStructured(t *testing.T) {
	var gotErr error
	executeAndWait(t, New(nil), Options{
		URL:    "http://example.test/",
		Method: "POST",
		Body:   FileBody("/does/not/exist.bin"),
	}, Callbacks{
		OnError: func(err error) { gotErr = err },
	})

	var fe *FileError
	if !errors.As(gotErr, &fe) {
		t.Fatalf("error = %v, want *FileError", gotErr)
	}
	if fe.Message != "file not found" {
		t.Errorf("message = %q", fe.Message)
	}
}

func TestValidateOptions(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{URL: "http://x.test", Method: "GET"}, false},
		{"missing url", Options{Method: "GET"}, true},
		{"missing method", Options{URL: "http://x.test"}, true},
		{"unparsable url", Options{URL: "http://bad url\x7f", Method: "GET"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOptions(tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOptions() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMaxRedirectsEnforced(t *testing.T) {
	var srv *httptest.Server
	count := 0
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		count++
		http.Redirect(w, r, fmt.Sprintf("/hop%d", count), http.StatusFound)
	}))
	defer srv.Close()

	var gotErr error
	executeAndWait(t, New(nil), Options{
		URL:            srv.URL,
		Method:         "GET",
		FollowRedirect: true,
		MaxRedirects:   3,
		Timeout:        5 * time.Second,
	}, Callbacks{
		OnResponseEnd: func(*ResponseDescriptor) { t.Error("loop should not settle successfully") },
		OnError:       func(err error) { gotErr = err },
	})

	if gotErr == nil || !strings.Contains(gotErr.Error(), "redirects") {
		t.Errorf("error = %v", gotErr)
	}
}
