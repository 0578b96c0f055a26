// Package model defines the observable request/state data model shared by the
// sandbox, the HTTP engine and the runner.
package model

// BodyType discriminates which member of the body union is active. The other
// members keep their last value but are ignored.
type BodyType string

const (
	BodyNone       BodyType = "none"
	BodyJSON       BodyType = "json"
	BodyURLEncoded BodyType = "urlencoded"
	BodyFormData   BodyType = "formdata"
	BodyRaw        BodyType = "raw"
	BodyBinary     BodyType = "binary"
)

// ValidBodyType reports whether s names a body union member.
func ValidBodyType(s string) bool {
	switch BodyType(s) {
	case BodyNone, BodyJSON, BodyURLEncoded, BodyFormData, BodyRaw, BodyBinary:
		return true
	}
	return false
}

// Region names one observable container.
type Region string

const (
	RegionHeaders        Region = "headers"
	RegionQueryParams    Region = "queryParams"
	RegionPathParams     Region = "pathParams"
	RegionCookies        Region = "cookies"
	RegionVariables      Region = "variables"
	RegionLocalStorage   Region = "localStorage"
	RegionSessionStorage Region = "sessionStorage"
	RegionBodyJSON       Region = "bodyJson"
	RegionBodyURLEncoded Region = "bodyUrlEncoded"
	RegionBodyFormData   Region = "bodyFormData"
	RegionBodyBinary     Region = "bodyBinary"
)

// FormFieldKind tags a formdata value as inline text or a file reference.
type FormFieldKind string

const (
	FormFieldString FormFieldKind = "string"
	FormFieldFile   FormFieldKind = "file"
)

// FormField is one multipart form entry.
type FormField struct {
	Kind  FormFieldKind `yaml:"kind" json:"kind"`
	Value string        `yaml:"value,omitempty" json:"value,omitempty"`
	Path  string        `yaml:"path,omitempty" json:"path,omitempty"`
}

// BinaryModeVariable and BinaryModeFile are the only legal binary body modes.
const (
	BinaryModeVariable = "variable"
	BinaryModeFile     = "file"
)

// BinaryBody selects the source of a binary request body: a variable holding
// base64 content, or a file path.
type BinaryBody struct {
	Mode  string `yaml:"mode" json:"mode"`
	Value string `yaml:"value" json:"value"`
}

// BodySnapshot holds every body union member. Only the member matching
// RequestSnapshot.BodyType is semantically active.
type BodySnapshot struct {
	JSON       map[string]any       `json:"json,omitempty"`
	URLEncoded map[string]string    `json:"urlencoded,omitempty"`
	FormData   map[string]FormField `json:"formdata,omitempty"`
	Raw        string               `json:"raw,omitempty"`
	Binary     BinaryBody           `json:"binary"`
}

// RequestSnapshot is a complete, self-contained copy of the request model.
// A nil header value suppresses an engine default header of the same name.
type RequestSnapshot struct {
	Method      string             `json:"method"`
	URL         string             `json:"url"`
	Headers     map[string]*string `json:"headers"`
	QueryParams map[string]string  `json:"queryParams"`
	PathParams  map[string]string  `json:"pathParams"`
	BodyType    BodyType           `json:"bodyType"`
	Body        BodySnapshot       `json:"body"`
}

// SharedState is the script-visible state that outlives a single request.
// Cookies are restricted to string values; the rest hold arbitrary JSON.
type SharedState struct {
	Variables      map[string]any    `json:"variables"`
	LocalStorage   map[string]any    `json:"localStorage"`
	SessionStorage map[string]any    `json:"sessionStorage"`
	Cookies        map[string]string `json:"cookies"`
}

// NewSharedState returns an empty state with all maps allocated.
func NewSharedState() SharedState {
	return SharedState{
		Variables:      map[string]any{},
		LocalStorage:   map[string]any{},
		SessionStorage: map[string]any{},
		Cookies:        map[string]string{},
	}
}

// Clone returns a deep copy. The sandbox hands clones across the channel so
// neither side ever aliases the other's maps.
func (s SharedState) Clone() SharedState {
	out := SharedState{
		Variables:      make(map[string]any, len(s.Variables)),
		LocalStorage:   make(map[string]any, len(s.LocalStorage)),
		SessionStorage: make(map[string]any, len(s.SessionStorage)),
		Cookies:        make(map[string]string, len(s.Cookies)),
	}
	for k, v := range s.Variables {
		out.Variables[k] = CloneValue(v)
	}
	for k, v := range s.LocalStorage {
		out.LocalStorage[k] = CloneValue(v)
	}
	for k, v := range s.SessionStorage {
		out.SessionStorage[k] = CloneValue(v)
	}
	for k, v := range s.Cookies {
		out.Cookies[k] = v
	}
	return out
}

// Clone returns a deep copy of the request snapshot.
func (r RequestSnapshot) Clone() RequestSnapshot {
	out := r
	out.Headers = make(map[string]*string, len(r.Headers))
	for k, v := range r.Headers {
		if v == nil {
			out.Headers[k] = nil
			continue
		}
		s := *v
		out.Headers[k] = &s
	}
	out.QueryParams = cloneStringMap(r.QueryParams)
	out.PathParams = cloneStringMap(r.PathParams)
	out.Body.URLEncoded = cloneStringMap(r.Body.URLEncoded)
	out.Body.JSON = make(map[string]any, len(r.Body.JSON))
	for k, v := range r.Body.JSON {
		out.Body.JSON[k] = CloneValue(v)
	}
	out.Body.FormData = make(map[string]FormField, len(r.Body.FormData))
	for k, v := range r.Body.FormData {
		out.Body.FormData[k] = v
	}
	return out
}

func cloneStringMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// CloneValue deep-copies a JSON-shaped value (maps, slices, scalars).
func CloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = CloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CloneValue(e)
		}
		return out
	default:
		return v
	}
}
