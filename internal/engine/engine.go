// Package engine performs the actual network call for a finalized request:
// body construction with safety limits, streamed response consumption,
// content classification, redirect/retry observation hooks and cooperative
// cancellation. All results are delivered through callbacks; Execute never
// blocks the caller.
package engine

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// ErrCancelled is delivered via OnError when a transfer is aborted by
// Cancel. Consumers must not mistake it for a genuine network failure.
var ErrCancelled = errors.New("request cancelled")

// defaultAcceptEncoding is the exact value that keeps automatic decompression
// enabled. Any other explicit Accept-Encoding is sent verbatim and the body
// is returned raw.
const defaultAcceptEncoding = "gzip, deflate, br"

const chunkSize = 32 * 1024

// Options describes one finalized request.
type Options struct {
	URL     string
	Method  string
	Headers map[string]*string // nil value suppresses a default header
	Body    Body               // nil means no body
	Proxy   string             // optional http/https/socks5 proxy URL

	Timeout        time.Duration
	FollowRedirect bool
	MaxRedirects   int
}

// Callbacks receive the results of an execution. Any of them may be nil.
type Callbacks struct {
	// OnResponse fires once response headers are available.
	OnResponse func(statusCode int, headers map[string]string)
	// OnResponseData fires per chunk with the running byte total.
	OnResponseData func(chunk []byte, total int64)
	// OnResponseEnd fires once with the final descriptor.
	OnResponseEnd func(*ResponseDescriptor)
	// OnError fires on any failure, including file-access errors during body
	// construction (as *FileError) and cancellation (ErrCancelled).
	OnError func(error)

	// BeforeRequest observes the fully prepared options before the call.
	BeforeRequest func(*Options)
	// BeforeRedirect observes each redirect hop; returning an error stops
	// the chain.
	BeforeRedirect func(next *http.Request, via []*http.Request) error
	// BeforeRetry is consulted after a transport failure; returning true
	// retries the call. No hook means no retry.
	BeforeRetry func(opts *Options, attempt int, err error) bool
}

// TimingDetail breaks down where request time was spent.
type TimingDetail struct {
	DNSLookup    time.Duration
	TCPConnect   time.Duration
	TLSHandshake time.Duration
	TTFB         time.Duration
	Transfer     time.Duration
	Total        time.Duration
}

// ResponseDescriptor is the complete result of one execution. Body always
// holds raw bytes; textual views are derived by the caller.
type ResponseDescriptor struct {
	StatusCode     int
	Status         string
	Proto          string
	Headers        map[string]string
	ContentType    string
	ContentLength  int64
	Body           []byte
	BodyByteLength int64
	Timing         TimingDetail
	RetryCount     int
	FinalURL       string
	RedirectChain  []string
	ClassifiedAs   ContentClass
	Diagnostic     string
}

// Engine executes finalized requests.
type Engine struct {
	proxyConf *ProxyConfig
	tlsConfig *tls.Config
	log       *zap.Logger
	maxRetry  int
}

// New creates an engine. A nil logger is replaced with a no-op one.
func New(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log, maxRetry: 3}
}

// SetProxy configures a default proxy for all executions.
func (e *Engine) SetProxy(proxyURL, noProxy string) {
	if proxyURL == "" {
		e.proxyConf = nil
		return
	}
	e.proxyConf = &ProxyConfig{URL: proxyURL, NoProxy: noProxy}
}

// SetTLSConfig sets the TLS configuration for mTLS and custom roots.
func (e *Engine) SetTLSConfig(cfg *tls.Config) {
	e.tlsConfig = cfg
}

// Call represents one in-flight execution and carries its cancel capability.
type Call struct {
	mu        sync.Mutex
	cancelled bool
	settled   bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// Cancel aborts the transfer. Safe to call at any point after Execute; after
// it returns, no OnResponseData or OnResponseEnd callback will fire.
func (c *Call) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	c.cancel()
}

// Cancelled reports whether Cancel was requested.
func (c *Call) Cancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

// Done is closed when the execution has fully settled.
func (c *Call) Done() <-chan struct{} { return c.done }

// deliver runs fn unless the call was cancelled or already settled. The flag
// check happens under the lock but fn runs outside it, so a callback may call
// Cancel without deadlocking the execute goroutine.
func (c *Call) deliver(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	blocked := c.cancelled || c.settled
	c.mu.Unlock()
	if blocked {
		return
	}
	fn()
}

// settle marks the call terminal and runs fn under the same guard. Only the
// first settlement is honored; the flag flips inside the critical section,
// the callback runs outside it.
func (c *Call) settle(fn func()) {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return
	}
	c.settled = true
	cancelled := c.cancelled
	c.mu.Unlock()
	if fn != nil && !cancelled {
		fn()
	}
}

// settleError reports err unless the call already settled. Cancellation is
// reported as ErrCancelled regardless of the underlying transport error.
func (c *Call) settleError(cb Callbacks, err error) {
	c.mu.Lock()
	if c.settled {
		c.mu.Unlock()
		return
	}
	c.settled = true
	cancelled := c.cancelled
	c.mu.Unlock()
	if cb.OnError == nil {
		return
	}
	if cancelled {
		cb.OnError(ErrCancelled)
		return
	}
	cb.OnError(err)
}

// Execute starts the request and returns immediately. All outcomes are
// delivered through cb on a separate goroutine.
func (e *Engine) Execute(ctx context.Context, opts Options, cb Callbacks) *Call {
	ctx, cancel := context.WithCancel(ctx)
	call := &Call{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(call.done)
		defer cancel()
		e.run(ctx, opts, cb, call)
	}()
	return call
}

func (e *Engine) run(ctx context.Context, opts Options, cb Callbacks, call *Call) {
	if cb.BeforeRequest != nil {
		cb.BeforeRequest(&opts)
	}

	body, bodyContentType, fileErr := e.buildBody(opts)
	if fileErr != nil {
		call.settleError(cb, fileErr)
		return
	}

	connection := headerLookup(opts.Headers, "Connection")
	keepAlive := connection == "" || strings.EqualFold(connection, "keep-alive")
	acceptEncoding := headerLookup(opts.Headers, "Accept-Encoding")
	autoDecompress := acceptEncoding == "" || acceptEncoding == defaultAcceptEncoding

	transport, err := e.buildTransport(opts.Proxy, keepAlive)
	if err != nil {
		call.settleError(cb, err)
		return
	}

	maxRedirects := opts.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = 10
	}
	var redirectChain []string
	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if !opts.FollowRedirect {
				return http.ErrUseLastResponse
			}
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			if cb.BeforeRedirect != nil {
				if err := cb.BeforeRedirect(req, via); err != nil {
					return err
				}
			}
			redirectChain = append(redirectChain, req.URL.String())
			return nil
		},
	}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}

	var dnsStart, connStart, tlsStart, gotConn, gotFirstByte time.Time
	var dnsDuration, connDuration, tlsDuration time.Duration
	trace := &httptrace.ClientTrace{
		DNSStart:     func(httptrace.DNSStartInfo) { dnsStart = time.Now() },
		DNSDone:      func(httptrace.DNSDoneInfo) { dnsDuration = time.Since(dnsStart) },
		ConnectStart: func(_, _ string) { connStart = time.Now() },
		ConnectDone:  func(_, _ string, _ error) { connDuration = time.Since(connStart) },
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone: func(tls.ConnectionState, error) {
			tlsDuration = time.Since(tlsStart)
		},
		GotConn:              func(httptrace.GotConnInfo) { gotConn = time.Now() },
		GotFirstResponseByte: func() { gotFirstByte = time.Now() },
	}

	newRequest := func() (*http.Request, error) {
		var reader io.Reader
		if len(body) > 0 {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, reader)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		for k, v := range opts.Headers {
			if v == nil {
				// nil suppresses a default header
				req.Header[http.CanonicalHeaderKey(k)] = nil
				continue
			}
			req.Header.Set(k, *v)
		}
		if bodyContentType != "" && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", bodyContentType)
		}
		if autoDecompress {
			req.Header.Set("Accept-Encoding", defaultAcceptEncoding)
		}
		return req.WithContext(httptrace.WithClientTrace(req.Context(), trace)), nil
	}

	retryCount := 0
	start := time.Now()
	var resp *http.Response
	for {
		req, err := newRequest()
		if err != nil {
			call.settleError(cb, err)
			return
		}
		redirectChain = nil
		resp, err = client.Do(req)
		if err == nil {
			break
		}
		if ctx.Err() != nil || cb.BeforeRetry == nil || retryCount >= e.maxRetry || !cb.BeforeRetry(&opts, retryCount+1, err) {
			call.settleError(cb, fmt.Errorf("sending request: %w", err))
			return
		}
		retryCount++
		e.log.Debug("retrying request",
			zap.String("url", opts.URL),
			zap.Int("attempt", retryCount),
			zap.Error(err))
	}
	defer resp.Body.Close()

	flatHeaders := flattenHeaders(resp.Header)
	call.deliver(func() {
		if cb.OnResponse != nil {
			cb.OnResponse(resp.StatusCode, flatHeaders)
		}
	})

	stream, err := decodeBody(resp, autoDecompress)
	if err != nil {
		call.settleError(cb, err)
		return
	}

	transferStart := time.Now()
	var buf bytes.Buffer
	var total int64
	chunk := make([]byte, chunkSize)
	for {
		n, readErr := stream.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			total += int64(n)
			call.deliver(func() {
				if cb.OnResponseData != nil {
					cb.OnResponseData(chunk[:n], total)
				}
			})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			call.settleError(cb, fmt.Errorf("reading response: %w", readErr))
			return
		}
	}
	transferDuration := time.Since(transferStart)

	var ttfb time.Duration
	if !gotConn.IsZero() && !gotFirstByte.IsZero() {
		ttfb = gotFirstByte.Sub(gotConn)
	}

	raw := buf.Bytes()
	class, diagnostic := Classify(raw, resp.Header.Get("Content-Type"))

	desc := &ResponseDescriptor{
		StatusCode:     resp.StatusCode,
		Status:         resp.Status,
		Proto:          resp.Proto,
		Headers:        flatHeaders,
		ContentType:    resp.Header.Get("Content-Type"),
		ContentLength:  resp.ContentLength,
		Body:           raw,
		BodyByteLength: total,
		Timing: TimingDetail{
			DNSLookup:    dnsDuration,
			TCPConnect:   connDuration,
			TLSHandshake: tlsDuration,
			TTFB:         ttfb,
			Transfer:     transferDuration,
			Total:        time.Since(start),
		},
		RetryCount:    retryCount,
		FinalURL:      resp.Request.URL.String(),
		RedirectChain: redirectChain,
		ClassifiedAs:  class,
		Diagnostic:    diagnostic,
	}
	call.settle(func() {
		if cb.OnResponseEnd != nil {
			cb.OnResponseEnd(desc)
		}
	})
}

// buildBody assembles the request body bytes. HEAD semantics forbid a body,
// so it is always omitted regardless of configuration.
func (e *Engine) buildBody(opts Options) ([]byte, string, *FileError) {
	if strings.EqualFold(opts.Method, http.MethodHead) || opts.Body == nil {
		return nil, "", nil
	}
	switch b := opts.Body.(type) {
	case StringBody:
		return []byte(b), "", nil
	case BytesBody:
		return b, "application/octet-stream", nil
	case FileBody:
		outcome := ReadFileChecked(string(b))
		if outcome.Err != nil {
			return nil, "", outcome.Err
		}
		return outcome.Data, DetectMime(string(b), outcome.Data), nil
	case FormBody:
		return BuildMultipart(b)
	}
	return nil, "", &FileError{Message: "unsupported body type"}
}

func decodeBody(resp *http.Response, autoDecompress bool) (io.Reader, error) {
	if !autoDecompress {
		return resp.Body, nil
	}
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		zr, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gzip response: %w", err)
		}
		return zr, nil
	case "deflate":
		return flate.NewReader(resp.Body), nil
	case "br":
		return brotli.NewReader(resp.Body), nil
	}
	return resp.Body, nil
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		out[k] = strings.Join(vs, ", ")
	}
	return out
}

// headerLookup finds a header value case-insensitively, skipping suppressed
// (nil) entries.
func headerLookup(headers map[string]*string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) && v != nil {
			return *v
		}
	}
	return ""
}

// ValidateOptions checks the minimum viable request.
func ValidateOptions(opts Options) error {
	if opts.URL == "" {
		return fmt.Errorf("URL is required")
	}
	if opts.Method == "" {
		return fmt.Errorf("method is required")
	}
	if _, err := url.Parse(opts.URL); err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	return nil
}
