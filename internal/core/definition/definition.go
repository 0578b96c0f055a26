// Package definition models a stored HTTP call definition: the request
// fields plus optional pre/post-request scripts.
package definition

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/serdar/apiflow/internal/core/model"
)

// Definition is one scriptable HTTP call.
type Definition struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Method string `yaml:"method"`
	URL    string `yaml:"url"`

	Headers     map[string]string `yaml:"headers,omitempty"`
	QueryParams map[string]string `yaml:"query_params,omitempty"`
	PathParams  map[string]string `yaml:"path_params,omitempty"`

	BodyType string `yaml:"body_type,omitempty"`
	Body     Body   `yaml:"body,omitempty"`

	PreScript  string `yaml:"pre_script,omitempty"`
	PostScript string `yaml:"post_script,omitempty"`

	Timeout        string `yaml:"timeout,omitempty"`
	FollowRedirect *bool  `yaml:"follow_redirect,omitempty"`
}

// Body holds every configured body variant; BodyType picks the active one.
type Body struct {
	JSON       string            `yaml:"json,omitempty"`
	URLEncoded map[string]string `yaml:"urlencoded,omitempty"`
	FormData   []FormEntry       `yaml:"formdata,omitempty"`
	Raw        string            `yaml:"raw,omitempty"`
	Binary     *Binary           `yaml:"binary,omitempty"`
}

// FormEntry is one ordered formdata field.
type FormEntry struct {
	Key   string `yaml:"key"`
	Kind  string `yaml:"kind"` // string or file
	Value string `yaml:"value,omitempty"`
	Path  string `yaml:"path,omitempty"`
}

// Binary points a binary body at a variable or a file.
type Binary struct {
	Mode  string `yaml:"mode"` // variable or file
	Value string `yaml:"value"`
}

// New creates a definition with defaults.
func New(name, method, url string) *Definition {
	return &Definition{
		ID:     uuid.New().String(),
		Name:   name,
		Method: method,
		URL:    url,
	}
}

// Snapshot converts the definition into the observable request model's seed
// form. JSON body text is decoded with numbers kept as json.Number.
func (d *Definition) Snapshot() (model.RequestSnapshot, error) {
	snap := model.RequestSnapshot{
		Method:      d.Method,
		URL:         d.URL,
		Headers:     map[string]*string{},
		QueryParams: map[string]string{},
		PathParams:  map[string]string{},
		BodyType:    model.BodyNone,
		Body: model.BodySnapshot{
			JSON:       map[string]any{},
			URLEncoded: map[string]string{},
			FormData:   map[string]model.FormField{},
			Raw:        d.Body.Raw,
			Binary:     model.BinaryBody{Mode: model.BinaryModeVariable},
		},
	}
	for k, v := range d.Headers {
		value := v
		snap.Headers[k] = &value
	}
	for k, v := range d.QueryParams {
		snap.QueryParams[k] = v
	}
	for k, v := range d.PathParams {
		snap.PathParams[k] = v
	}

	if d.BodyType != "" {
		if !model.ValidBodyType(d.BodyType) {
			return snap, fmt.Errorf("unknown body type %q", d.BodyType)
		}
		snap.BodyType = model.BodyType(d.BodyType)
	}

	if d.Body.JSON != "" {
		decoded, err := model.DecodeJSON([]byte(d.Body.JSON))
		if err != nil {
			return snap, fmt.Errorf("json body: %w", err)
		}
		obj, ok := decoded.(map[string]any)
		if !ok {
			return snap, fmt.Errorf("json body must be an object")
		}
		snap.Body.JSON = obj
	}
	for k, v := range d.Body.URLEncoded {
		snap.Body.URLEncoded[k] = v
	}
	for _, entry := range d.Body.FormData {
		switch model.FormFieldKind(entry.Kind) {
		case model.FormFieldFile:
			snap.Body.FormData[entry.Key] = model.FormField{Kind: model.FormFieldFile, Path: entry.Path}
		case model.FormFieldString, "":
			snap.Body.FormData[entry.Key] = model.FormField{Kind: model.FormFieldString, Value: entry.Value}
		default:
			return snap, fmt.Errorf("form field %q: unknown kind %q", entry.Key, entry.Kind)
		}
	}
	if d.Body.Binary != nil {
		if d.Body.Binary.Mode != model.BinaryModeVariable && d.Body.Binary.Mode != model.BinaryModeFile {
			return snap, fmt.Errorf("binary body: unknown mode %q", d.Body.Binary.Mode)
		}
		snap.Body.Binary = model.BinaryBody{Mode: d.Body.Binary.Mode, Value: d.Body.Binary.Value}
	}

	return snap, nil
}
