// Package runner orchestrates one scriptable request end to end: seed the
// observable model, run the pre-request script, execute the call on the HTTP
// engine, run the post-request script and persist updated shared state.
package runner

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/serdar/apiflow/internal/core/definition"
	"github.com/serdar/apiflow/internal/core/environment"
	"github.com/serdar/apiflow/internal/core/history"
	"github.com/serdar/apiflow/internal/core/model"
	"github.com/serdar/apiflow/internal/core/state"
	tlsconf "github.com/serdar/apiflow/internal/core/tls"
	"github.com/serdar/apiflow/internal/engine"
	"github.com/serdar/apiflow/internal/sandbox"
)

// Config holds runner configuration.
type Config struct {
	DefinitionPath   string
	StatePath        string
	HistoryPath      string
	OutputFormat     string // text or json
	Verbose          bool
	Timeout          time.Duration
	PreScriptTimeout time.Duration
	FollowRedirect   bool
	MaxRedirects     int
	ProxyURL         string
	NoProxy          string
	TLS              *tlsconf.Config
}

// Result holds the outcome of a single run.
type Result struct {
	Name          string              `json:"name"`
	Method        string              `json:"method"`
	URL           string              `json:"url"`
	StatusCode    int                 `json:"status_code"`
	Status        string              `json:"status"`
	Duration      time.Duration       `json:"duration"`
	Size          int64               `json:"size"`
	ContentClass  string              `json:"content_class,omitempty"`
	RedirectChain []string            `json:"redirect_chain,omitempty"`
	Error         error               `json:"-"`
	ErrorString   string              `json:"error,omitempty"`
	TimedOut      bool                `json:"timed_out,omitempty"`
	ScriptLogs    []string            `json:"script_logs,omitempty"`
	MutationTags  []string            `json:"mutations,omitempty"`
	Body          []byte              `json:"-"`
	BodyString    string              `json:"body,omitempty"`
	Headers       map[string]string   `json:"headers,omitempty"`
	Timing        engine.TimingDetail `json:"-"`
}

// Runner executes one definition headlessly.
type Runner struct {
	def     *definition.Definition
	store   *state.Store
	history *history.Store
	engine  *engine.Engine
	sandbox *sandbox.Runner
	cfg     Config
	log     *zap.Logger
}

// New creates a runner from config.
func New(cfg Config, log *zap.Logger) (*Runner, error) {
	if cfg.DefinitionPath == "" {
		return nil, fmt.Errorf("definition path is required")
	}
	if log == nil {
		log = zap.NewNop()
	}

	def, err := definition.Load(cfg.DefinitionPath)
	if err != nil {
		return nil, fmt.Errorf("loading definition: %w", err)
	}

	var store *state.Store
	if cfg.StatePath != "" {
		store, err = state.Open(cfg.StatePath)
		if err != nil {
			return nil, fmt.Errorf("opening state store: %w", err)
		}
	}

	var hist *history.Store
	if cfg.HistoryPath != "" {
		hist, err = history.Open(cfg.HistoryPath)
		if err != nil {
			if store != nil {
				store.Close()
			}
			return nil, fmt.Errorf("opening history store: %w", err)
		}
	}

	eng := engine.New(log)
	if cfg.ProxyURL != "" {
		eng.SetProxy(cfg.ProxyURL, cfg.NoProxy)
	}
	if !cfg.TLS.IsEmpty() {
		tlsCfg, err := cfg.TLS.Build()
		if err != nil {
			return nil, fmt.Errorf("building TLS config: %w", err)
		}
		eng.SetTLSConfig(tlsCfg)
	}

	return &Runner{
		def:     def,
		store:   store,
		history: hist,
		engine:  eng,
		sandbox: sandbox.NewRunner(eng, log),
		cfg:     cfg,
		log:     log,
	}, nil
}

// Close releases the state and history stores.
func (r *Runner) Close() {
	if r.store != nil {
		r.store.Close()
	}
	if r.history != nil {
		r.history.Close()
	}
}

// Run executes the definition: variables are resolved, the pre-request
// script finalizes the request, the engine performs the call, the
// post-request script inspects the response, and shared state is persisted.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	result := &Result{Name: r.def.Name, Method: r.def.Method, URL: r.def.URL}
	defer r.record(result)

	sharedState := model.NewSharedState()
	if r.store != nil {
		loaded, err := r.store.Load()
		if err != nil {
			return nil, fmt.Errorf("loading shared state: %w", err)
		}
		sharedState = loaded
	}

	snap, err := r.def.Snapshot()
	if err != nil {
		result.Error = err
		return result, nil
	}
	resolveSnapshot(&snap, sharedState.Variables)

	onMutation := func(ev model.MutationEvent) {
		result.MutationTags = append(result.MutationTags, ev.Type())
		r.log.Debug("script mutation",
			zap.String("region", string(ev.Region)),
			zap.String("kind", string(ev.Kind)))
	}

	if r.def.PreScript != "" {
		res, err := r.sandbox.Run(ctx, snap, sharedState, r.def.PreScript, sandbox.RunOptions{
			Timeout:    r.cfg.PreScriptTimeout,
			OnMutation: onMutation,
		})
		if err != nil {
			return nil, fmt.Errorf("pre-request script: %w", err)
		}
		result.ScriptLogs = append(result.ScriptLogs, res.Logs...)
		if !res.Success {
			result.TimedOut = res.TimedOut
			result.Error = fmt.Errorf("pre-request script: %s", res.Error)
			return result, nil
		}
		snap = res.Request
		sharedState = res.State
	}

	opts, buildErr := r.buildOptions(snap, sharedState)
	if buildErr != nil {
		result.Error = buildErr
		return result, nil
	}
	result.Method = opts.Method
	result.URL = opts.URL

	var desc *engine.ResponseDescriptor
	var callErr error
	call := r.engine.Execute(ctx, opts, engine.Callbacks{
		OnResponseEnd: func(d *engine.ResponseDescriptor) { desc = d },
		OnError:       func(err error) { callErr = err },
	})
	<-call.Done()

	if callErr != nil {
		result.Error = callErr
		return result, nil
	}

	result.StatusCode = desc.StatusCode
	result.Status = desc.Status
	result.Duration = desc.Timing.Total
	result.Size = desc.BodyByteLength
	result.ContentClass = string(desc.ClassifiedAs)
	result.RedirectChain = desc.RedirectChain
	result.Body = desc.Body
	result.Headers = desc.Headers
	result.Timing = desc.Timing

	if r.def.PostScript != "" {
		res, err := r.sandbox.Run(ctx, snap, sharedState, r.def.PostScript, sandbox.RunOptions{
			OnMutation: onMutation,
			Response: &sandbox.HTTPCallResponse{
				StatusCode:  desc.StatusCode,
				Status:      desc.Status,
				Headers:     desc.Headers,
				Body:        string(desc.Body),
				ContentType: desc.ContentType,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("post-request script: %w", err)
		}
		result.ScriptLogs = append(result.ScriptLogs, res.Logs...)
		if !res.Success {
			result.TimedOut = res.TimedOut
			result.Error = fmt.Errorf("post-request script: %s", res.Error)
			return result, nil
		}
		sharedState = res.State
	}

	if r.store != nil {
		if err := r.store.Save(sharedState); err != nil {
			return nil, fmt.Errorf("saving shared state: %w", err)
		}
	}

	return result, nil
}

// record writes the run outcome to the history store.
func (r *Runner) record(result *Result) {
	if r.history == nil {
		return
	}
	entry := history.Entry{
		Name:         result.Name,
		Method:       result.Method,
		URL:          result.URL,
		StatusCode:   result.StatusCode,
		Duration:     result.Duration,
		Size:         result.Size,
		ContentClass: result.ContentClass,
		Timestamp:    time.Now(),
	}
	if result.Error != nil {
		entry.Error = result.Error.Error()
	}
	if _, err := r.history.Add(entry); err != nil {
		r.log.Warn("recording run history", zap.Error(err))
	}
}

// resolveSnapshot substitutes {{variable}} placeholders in the request
// fields before the pre-request script runs.
func resolveSnapshot(snap *model.RequestSnapshot, vars map[string]any) {
	snap.URL = environment.Resolve(snap.URL, vars)
	for k, v := range snap.Headers {
		if v != nil {
			resolved := environment.Resolve(*v, vars)
			snap.Headers[k] = &resolved
		}
	}
	snap.QueryParams = environment.ResolveMap(snap.QueryParams, vars)
	snap.PathParams = environment.ResolveMap(snap.PathParams, vars)
	snap.Body.Raw = environment.Resolve(snap.Body.Raw, vars)
	snap.Body.URLEncoded = environment.ResolveMap(snap.Body.URLEncoded, vars)
}

// buildOptions converts the finalized snapshot into engine options: path
// parameters substituted, query parameters appended, the active body member
// encoded.
func (r *Runner) buildOptions(snap model.RequestSnapshot, sharedState model.SharedState) (engine.Options, error) {
	target := substitutePathParams(snap.URL, snap.PathParams)
	u, err := url.Parse(target)
	if err != nil {
		return engine.Options{}, fmt.Errorf("parsing URL: %w", err)
	}
	if len(snap.QueryParams) > 0 {
		q := u.Query()
		for k, v := range snap.QueryParams {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	opts := engine.Options{
		URL:            u.String(),
		Method:         snap.Method,
		Headers:        snap.Headers,
		Timeout:        r.cfg.Timeout,
		FollowRedirect: r.cfg.FollowRedirect,
		MaxRedirects:   r.cfg.MaxRedirects,
	}
	if r.def.FollowRedirect != nil {
		opts.FollowRedirect = *r.def.FollowRedirect
	}

	body, contentType, err := encodeBody(snap, sharedState)
	if err != nil {
		return engine.Options{}, err
	}
	opts.Body = body
	if contentType != "" && headerAbsent(opts.Headers, "Content-Type") {
		ct := contentType
		if opts.Headers == nil {
			opts.Headers = map[string]*string{}
		}
		opts.Headers["Content-Type"] = &ct
	}
	return opts, nil
}

func encodeBody(snap model.RequestSnapshot, sharedState model.SharedState) (engine.Body, string, error) {
	switch snap.BodyType {
	case model.BodyNone, "":
		return nil, "", nil
	case model.BodyRaw:
		if snap.Body.Raw == "" {
			return nil, "", nil
		}
		return engine.StringBody(snap.Body.Raw), "", nil
	case model.BodyJSON:
		encoded, err := model.EncodeJSON(snap.Body.JSON)
		if err != nil {
			return nil, "", fmt.Errorf("encoding json body: %w", err)
		}
		return engine.StringBody(encoded), "application/json", nil
	case model.BodyURLEncoded:
		form := url.Values{}
		for k, v := range snap.Body.URLEncoded {
			form.Set(k, v)
		}
		return engine.StringBody(form.Encode()), "application/x-www-form-urlencoded", nil
	case model.BodyFormData:
		keys := make([]string, 0, len(snap.Body.FormData))
		for k := range snap.Body.FormData {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make(engine.FormBody, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, engine.FormPart{Key: k, Field: snap.Body.FormData[k]})
		}
		return parts, "", nil
	case model.BodyBinary:
		if snap.Body.Binary.Mode == model.BinaryModeFile {
			return engine.FileBody(snap.Body.Binary.Value), "", nil
		}
		// variable mode: the value names a shared variable holding base64
		// content; non-base64 values are sent as-is
		raw, _ := sharedState.Variables[snap.Body.Binary.Value].(string)
		if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
			return engine.BytesBody(decoded), "", nil
		}
		return engine.BytesBody([]byte(raw)), "", nil
	}
	return nil, "", fmt.Errorf("unknown body type %q", snap.BodyType)
}

// substitutePathParams replaces :name path segments from the pathParams
// region.
func substitutePathParams(rawURL string, params map[string]string) string {
	if len(params) == 0 {
		return rawURL
	}
	segments := strings.Split(rawURL, "/")
	for i, seg := range segments {
		if strings.HasPrefix(seg, ":") {
			if v, ok := params[seg[1:]]; ok {
				segments[i] = url.PathEscape(v)
			}
		}
	}
	return strings.Join(segments, "/")
}

func headerAbsent(headers map[string]*string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return false
		}
	}
	return true
}
