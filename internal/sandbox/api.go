package sandbox

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dop251/goja"
	"github.com/google/uuid"

	"github.com/serdar/apiflow/internal/core/model"
	"github.com/serdar/apiflow/internal/core/observe"
)

// api is the `af` global exposed to scripts. Every assignment or delete on
// its request/state objects flows through the observable containers, so the
// host sees each mutation without the script calling any commit API.
type api struct {
	vm       *goja.Runtime
	model    *observe.RequestModel
	logs     []string
	response *HTTPCallResponse
	send     func(HTTPCallOptions) (*HTTPCallResponse, error)
}

func newAPI(vm *goja.Runtime, m *observe.RequestModel, send func(HTTPCallOptions) (*HTTPCallResponse, error)) *api {
	return &api{vm: vm, model: m, send: send}
}

func (a *api) register() {
	af := a.vm.NewObject()

	af.Set("request", a.vm.NewDynamicObject(&requestObject{api: a}))
	af.Set("variables", a.containerValue(a.model.Variables, false))
	af.Set("localStorage", a.containerValue(a.model.Local, false))
	af.Set("sessionStorage", a.containerValue(a.model.Session, false))
	af.Set("cookies", a.containerValue(a.model.Cookies, false))

	httpObj := a.vm.NewObject()
	httpObj.Set("send", a.httpSend)
	af.Set("http", httpObj)

	if a.response != nil {
		af.Set("response", a.vm.ToValue(map[string]any{
			"statusCode":  a.response.StatusCode,
			"status":      a.response.Status,
			"headers":     a.response.Headers,
			"body":        a.response.Body,
			"contentType": a.response.ContentType,
		}))
	}

	af.Set("log", func(call goja.FunctionCall) goja.Value {
		args := make([]interface{}, len(call.Arguments))
		for i, arg := range call.Arguments {
			args[i] = arg.Export()
		}
		a.logs = append(a.logs, fmt.Sprint(args...))
		return goja.Undefined()
	})
	af.Set("base64encode", func(call goja.FunctionCall) goja.Value {
		return a.vm.ToValue(base64.StdEncoding.EncodeToString([]byte(call.Argument(0).String())))
	})
	af.Set("base64decode", func(call goja.FunctionCall) goja.Value {
		decoded, err := base64.StdEncoding.DecodeString(call.Argument(0).String())
		if err != nil {
			return a.vm.ToValue("")
		}
		return a.vm.ToValue(string(decoded))
	})
	af.Set("sha256", func(call goja.FunctionCall) goja.Value {
		h := sha256.Sum256([]byte(call.Argument(0).String()))
		return a.vm.ToValue(hex.EncodeToString(h[:]))
	})
	af.Set("uuid", func(call goja.FunctionCall) goja.Value {
		return a.vm.ToValue(uuid.New().String())
	})

	a.vm.Set("af", af)
}

func (a *api) containerValue(c *observe.Container, nested bool) goja.Value {
	return a.vm.NewDynamicObject(&containerObject{api: a, c: c, nested: nested})
}

// httpSend performs a host-mediated HTTP call: the request travels to the
// host over the message channel, the host runs it on its engine, and script
// execution resumes only once the reply arrives.
func (a *api) httpSend(call goja.FunctionCall) goja.Value {
	raw, _ := call.Argument(0).Export().(map[string]any)
	opts := HTTPCallOptions{Method: "GET"}
	if raw != nil {
		if s, ok := raw["url"].(string); ok {
			opts.URL = s
		}
		if s, ok := raw["method"].(string); ok && s != "" {
			opts.Method = s
		}
		if s, ok := raw["body"].(string); ok {
			opts.Body = s
		}
		if h, ok := raw["headers"].(map[string]any); ok {
			opts.Headers = make(map[string]string, len(h))
			for k, v := range h {
				if s, ok := v.(string); ok {
					opts.Headers[k] = s
				}
			}
		}
		switch t := raw["timeout"].(type) {
		case int64:
			opts.TimeoutMs = int(t)
		case float64:
			opts.TimeoutMs = int(t)
		}
	}
	if opts.URL == "" {
		panic(a.vm.NewGoError(fmt.Errorf("http.send: url is required")))
	}

	resp, err := a.send(opts)
	if err != nil {
		panic(a.vm.NewGoError(err))
	}
	return a.vm.ToValue(map[string]any{
		"statusCode":  resp.StatusCode,
		"status":      resp.Status,
		"headers":     resp.Headers,
		"body":        resp.Body,
		"contentType": resp.ContentType,
	})
}

// requestObject maps `af.request` onto the aggregate: scalar fields plus the
// per-region containers. Deletes on aggregate keys are silently swallowed.
type requestObject struct {
	api *api
}

func (r *requestObject) Get(key string) goja.Value {
	a := r.api
	switch key {
	case "method":
		return a.vm.ToValue(a.model.Method())
	case "url":
		return a.vm.ToValue(a.model.URL())
	case "bodyType":
		return a.vm.ToValue(string(a.model.BodyType()))
	case "headers":
		return a.containerValue(a.model.Headers, false)
	case "queryParams":
		return a.containerValue(a.model.QueryParams, false)
	case "pathParams":
		return a.containerValue(a.model.PathParams, false)
	case "body":
		return a.vm.NewDynamicObject(&bodyObject{api: a})
	}
	return goja.Undefined()
}

func (r *requestObject) Set(key string, val goja.Value) bool {
	a := r.api
	switch key {
	case "method":
		if s, ok := exportValue(val).(string); ok {
			a.model.SetMethod(s)
		} else {
			a.model.RejectWrite(key)
		}
	case "url":
		if s, ok := exportValue(val).(string); ok {
			a.model.SetURL(s)
		} else {
			a.model.RejectWrite(key)
		}
	case "bodyType":
		if s, ok := exportValue(val).(string); ok {
			a.model.SetBodyType(s)
		} else {
			a.model.RejectWrite(key)
		}
	}
	// container keys are not assignable wholesale; rejection never raises
	return true
}

func (r *requestObject) Has(key string) bool {
	switch key {
	case "method", "url", "bodyType", "headers", "queryParams", "pathParams", "body":
		return true
	}
	return false
}

func (r *requestObject) Delete(string) bool { return true }

func (r *requestObject) Keys() []string {
	return []string{"method", "url", "bodyType", "headers", "queryParams", "pathParams", "body"}
}

// bodyObject maps `af.request.body`. The union member containers themselves
// are non-deletable by design.
type bodyObject struct {
	api *api
}

func (b *bodyObject) Get(key string) goja.Value {
	a := b.api
	switch key {
	case "raw":
		return a.vm.ToValue(a.model.RawBody())
	case "json":
		return a.containerValue(a.model.BodyJSON, true)
	case "urlencoded":
		return a.containerValue(a.model.BodyURLEncoded, false)
	case "formdata":
		return a.containerValue(a.model.BodyFormData, false)
	case "binary":
		return a.containerValue(a.model.BodyBinary, false)
	}
	return goja.Undefined()
}

func (b *bodyObject) Set(key string, val goja.Value) bool {
	if key == "raw" {
		if s, ok := exportValue(val).(string); ok {
			b.api.model.SetRawBody(s)
		} else {
			b.api.model.RejectWrite("body.raw")
		}
	}
	return true
}

func (b *bodyObject) Has(key string) bool {
	switch key {
	case "raw", "json", "urlencoded", "formdata", "binary":
		return true
	}
	return false
}

func (b *bodyObject) Delete(string) bool { return true }

func (b *bodyObject) Keys() []string {
	return []string{"raw", "json", "urlencoded", "formdata", "binary"}
}

// containerObject exposes one observable container as a script object.
// nested containers (the JSON body) wrap plain objects and arrays returned
// from Get, so deep mutation is observed too.
type containerObject struct {
	api    *api
	c      *observe.Container
	nested bool
}

func (o *containerObject) Get(key string) goja.Value {
	v, ok := o.c.Get(key)
	if !ok {
		return goja.Undefined()
	}
	return wrapValue(o.api, o.c, []string{key}, v, o.nested)
}

func (o *containerObject) Set(key string, val goja.Value) bool {
	o.c.Write(key, exportValue(val))
	return true
}

func (o *containerObject) Has(key string) bool    { return o.c.Has(key) }
func (o *containerObject) Delete(key string) bool { return o.c.Delete(key) }
func (o *containerObject) Keys() []string         { return o.c.Keys() }

// nestedObject is a view onto a map nested inside the JSON body region.
// Writes re-emit the full region snapshot.
type nestedObject struct {
	api  *api
	c    *observe.Container
	path []string
}

func (o *nestedObject) Get(key string) goja.Value {
	v, ok := o.c.GetAt(extend(o.path, key))
	if !ok {
		return goja.Undefined()
	}
	return wrapValue(o.api, o.c, extend(o.path, key), v, true)
}

func (o *nestedObject) Set(key string, val goja.Value) bool {
	o.c.WriteAt(extend(o.path, key), exportValue(val))
	return true
}

func (o *nestedObject) Has(key string) bool {
	_, ok := o.c.GetAt(extend(o.path, key))
	return ok
}

func (o *nestedObject) Delete(key string) bool {
	return o.c.DeleteAt(extend(o.path, key))
}

func (o *nestedObject) Keys() []string {
	v, ok := o.c.GetAt(o.path)
	if !ok {
		return nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

// nestedArray is a view onto a slice nested inside the JSON body region.
type nestedArray struct {
	api  *api
	c    *observe.Container
	path []string
}

func (a *nestedArray) Len() int {
	v, ok := a.c.GetAt(a.path)
	if !ok {
		return 0
	}
	s, _ := v.([]any)
	return len(s)
}

func (a *nestedArray) Get(idx int) goja.Value {
	seg := extend(a.path, strconv.Itoa(idx))
	v, ok := a.c.GetAt(seg)
	if !ok {
		return goja.Undefined()
	}
	return wrapValue(a.api, a.c, seg, v, true)
}

func (a *nestedArray) Set(idx int, val goja.Value) bool {
	a.c.WriteAt(extend(a.path, strconv.Itoa(idx)), exportValue(val))
	return true
}

func (a *nestedArray) SetLen(int) bool { return false }

func wrapValue(a *api, c *observe.Container, path []string, v any, nested bool) goja.Value {
	if nested {
		switch v.(type) {
		case map[string]any:
			return a.vm.NewDynamicObject(&nestedObject{api: a, c: c, path: path})
		case []any:
			return a.vm.NewDynamicArray(&nestedArray{api: a, c: c, path: path})
		}
	}
	switch t := v.(type) {
	case model.FormField:
		out := map[string]any{"kind": string(t.Kind)}
		if t.Kind == model.FormFieldFile {
			out["path"] = t.Path
		} else {
			out["value"] = t.Value
		}
		return a.vm.ToValue(out)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return a.vm.ToValue(i)
		}
		f, _ := t.Float64()
		return a.vm.ToValue(f)
	case nil:
		return goja.Null()
	}
	return a.vm.ToValue(v)
}

// exportValue converts a script value into the plain Go shape the validators
// understand.
func exportValue(val goja.Value) any {
	if val == nil || goja.IsUndefined(val) {
		return nil
	}
	if goja.IsNull(val) {
		return nil
	}
	return val.Export()
}

func extend(path []string, key string) []string {
	out := make([]string, 0, len(path)+1)
	out = append(out, path...)
	return append(out, key)
}
