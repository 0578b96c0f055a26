package observe

import (
	"go.uber.org/zap"

	"github.com/serdar/apiflow/internal/core/model"
)

// RequestModel composes the observable containers for one in-flight
// evaluation: request regions, the tagged body union and the shared-state
// regions, plus the plain scalar fields (method, url, bodyType). Exactly one
// evaluation owns a RequestModel at a time.
type RequestModel struct {
	method   string
	url      string
	bodyType model.BodyType
	bodyRaw  string

	Headers     *Container
	QueryParams *Container
	PathParams  *Container
	Cookies     *Container
	Variables   *Container
	Local       *Container
	Session     *Container

	BodyJSON       *Container
	BodyURLEncoded *Container
	BodyFormData   *Container
	BodyBinary     *Container

	log *zap.Logger
}

// NewRequestModel seeds a model from a request snapshot and shared state.
// Seeding emits no events; only script mutations do.
func NewRequestModel(snap model.RequestSnapshot, state model.SharedState, emit Emitter, log *zap.Logger) *RequestModel {
	if log == nil {
		log = zap.NewNop()
	}
	m := &RequestModel{
		method:   snap.Method,
		url:      snap.URL,
		bodyType: snap.BodyType,
		bodyRaw:  snap.Body.Raw,
		log:      log,

		Headers:     New(model.RegionHeaders, HeaderValue, nil, emit, log),
		QueryParams: New(model.RegionQueryParams, StringOnly, nil, emit, log),
		PathParams:  New(model.RegionPathParams, StringOnly, nil, emit, log),
		Cookies:     New(model.RegionCookies, StringOnly, nil, emit, log),
		Variables:   New(model.RegionVariables, AnyValue, nil, emit, log),
		Local:       New(model.RegionLocalStorage, AnyValue, nil, emit, log),
		Session:     New(model.RegionSessionStorage, AnyValue, nil, emit, log),

		BodyJSON:       New(model.RegionBodyJSON, AnyValue, nil, emit, log),
		BodyURLEncoded: New(model.RegionBodyURLEncoded, StringOnly, nil, emit, log),
		BodyFormData:   New(model.RegionBodyFormData, FormFieldValue, nil, emit, log),
		BodyBinary:     New(model.RegionBodyBinary, BinaryValue, BinaryDeletes, emit, log),
	}
	if m.bodyType == "" {
		m.bodyType = model.BodyNone
	}

	m.Headers.Seed(headerSeed(snap.Headers))
	m.QueryParams.Seed(stringSeed(snap.QueryParams))
	m.PathParams.Seed(stringSeed(snap.PathParams))
	m.Cookies.Seed(stringSeed(state.Cookies))
	m.Variables.Seed(state.Variables)
	m.Local.Seed(state.LocalStorage)
	m.Session.Seed(state.SessionStorage)

	m.BodyJSON.Seed(snap.Body.JSON)
	m.BodyURLEncoded.Seed(stringSeed(snap.Body.URLEncoded))
	m.BodyFormData.Seed(formSeed(snap.Body.FormData))

	binary := map[string]any{"mode": snap.Body.Binary.Mode, "value": snap.Body.Binary.Value}
	if snap.Body.Binary.Mode == "" {
		binary["mode"] = model.BinaryModeVariable
	}
	m.BodyBinary.Seed(binary)

	return m
}

// RejectWrite logs a discarded write to a scalar request field, keeping the
// reject-log-continue policy uniform with the containers.
func (m *RequestModel) RejectWrite(key string) {
	m.log.Warn("rejected write", zap.String("region", "request"), zap.String("key", key))
}

// Method returns the current HTTP method.
func (m *RequestModel) Method() string { return m.method }

// SetMethod assigns the method; empty values are rejected and logged.
func (m *RequestModel) SetMethod(v string) bool {
	if v == "" {
		m.log.Warn("rejected write", zap.String("region", "request"), zap.String("key", "method"))
		return false
	}
	m.method = v
	return true
}

// URL returns the current request URL.
func (m *RequestModel) URL() string { return m.url }

// SetURL assigns the URL.
func (m *RequestModel) SetURL(v string) bool {
	m.url = v
	return true
}

// BodyType returns the active body union member.
func (m *RequestModel) BodyType() model.BodyType { return m.bodyType }

// SetBodyType switches the active body member. Unknown discriminants are
// rejected and logged; the body union's discriminant is never deletable.
func (m *RequestModel) SetBodyType(v string) bool {
	if !model.ValidBodyType(v) {
		m.log.Warn("rejected write", zap.String("region", "request"), zap.String("key", "bodyType"))
		return false
	}
	m.bodyType = model.BodyType(v)
	return true
}

// RawBody returns the raw body string.
func (m *RequestModel) RawBody() string { return m.bodyRaw }

// SetRawBody assigns the raw body member.
func (m *RequestModel) SetRawBody(v string) bool {
	m.bodyRaw = v
	return true
}

// Snapshot assembles a complete copy of the request model.
func (m *RequestModel) Snapshot() model.RequestSnapshot {
	return model.RequestSnapshot{
		Method:      m.method,
		URL:         m.url,
		Headers:     headersFrom(m.Headers.Snapshot()),
		QueryParams: stringsFrom(m.QueryParams.Snapshot()),
		PathParams:  stringsFrom(m.PathParams.Snapshot()),
		BodyType:    m.bodyType,
		Body: model.BodySnapshot{
			JSON:       m.BodyJSON.Snapshot(),
			URLEncoded: stringsFrom(m.BodyURLEncoded.Snapshot()),
			FormData:   formsFrom(m.BodyFormData.Snapshot()),
			Raw:        m.bodyRaw,
			Binary:     m.binarySnapshot(),
		},
	}
}

// State assembles a complete copy of the shared-state regions.
func (m *RequestModel) State() model.SharedState {
	return model.SharedState{
		Variables:      m.Variables.Snapshot(),
		LocalStorage:   m.Local.Snapshot(),
		SessionStorage: m.Session.Snapshot(),
		Cookies:        stringsFrom(m.Cookies.Snapshot()),
	}
}

func (m *RequestModel) binarySnapshot() model.BinaryBody {
	snap := m.BodyBinary.Snapshot()
	mode, _ := snap["mode"].(string)
	value, _ := snap["value"].(string)
	return model.BinaryBody{Mode: mode, Value: value}
}

func headerSeed(h map[string]*string) map[string]any {
	out := make(map[string]any, len(h))
	for k, v := range h {
		if v == nil {
			out[k] = nil
		} else {
			out[k] = *v
		}
	}
	return out
}

func stringSeed(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func formSeed(m map[string]model.FormField) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func headersFrom(m map[string]any) map[string]*string {
	out := make(map[string]*string, len(m))
	for k, v := range m {
		if v == nil {
			out[k] = nil
			continue
		}
		if s, ok := v.(string); ok {
			c := s
			out[k] = &c
		}
	}
	return out
}

func stringsFrom(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

func formsFrom(m map[string]any) map[string]model.FormField {
	out := make(map[string]model.FormField, len(m))
	for k, v := range m {
		if f, ok := v.(model.FormField); ok {
			out[k] = f
		}
	}
	return out
}
