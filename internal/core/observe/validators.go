package observe

import (
	"github.com/serdar/apiflow/internal/core/model"
)

// StringOnly accepts only string values. Cookies, urlencoded bodies and
// query/path parameters use this rule.
func StringOnly(_ string, value any) (any, bool) {
	s, ok := value.(string)
	return s, ok
}

// HeaderValue accepts a string or nil. A nil value marks a default header as
// suppressed rather than set.
func HeaderValue(_ string, value any) (any, bool) {
	if value == nil {
		return nil, true
	}
	s, ok := value.(string)
	return s, ok
}

// AnyValue accepts everything. The JSON body and the variable/storage regions
// hold arbitrary nested structures.
func AnyValue(_ string, value any) (any, bool) {
	return value, true
}

// FormFieldValue accepts a bare string (coerced to an inline string field) or
// an explicit {kind, path|value} shape. Anything else is rejected.
func FormFieldValue(_ string, value any) (any, bool) {
	switch t := value.(type) {
	case string:
		return model.FormField{Kind: model.FormFieldString, Value: t}, true
	case model.FormField:
		if t.Kind == model.FormFieldString || t.Kind == model.FormFieldFile {
			return t, true
		}
		return nil, false
	case map[string]any:
		kind, _ := t["kind"].(string)
		switch model.FormFieldKind(kind) {
		case model.FormFieldString:
			v, ok := t["value"].(string)
			if !ok {
				return nil, false
			}
			return model.FormField{Kind: model.FormFieldString, Value: v}, true
		case model.FormFieldFile:
			p, ok := t["path"].(string)
			if !ok {
				return nil, false
			}
			return model.FormField{Kind: model.FormFieldFile, Path: p}, true
		}
		return nil, false
	}
	return nil, false
}

// BinaryValue restricts the binary body region to its two fixed keys: mode
// (exactly "variable" or "file") and value (any string).
func BinaryValue(key string, value any) (any, bool) {
	switch key {
	case "mode":
		s, ok := value.(string)
		if !ok {
			return nil, false
		}
		if s != model.BinaryModeVariable && s != model.BinaryModeFile {
			return nil, false
		}
		return s, true
	case "value":
		s, ok := value.(string)
		return s, ok
	}
	return nil, false
}

// BinaryDeletes makes deleting mode or value a no-op that is still observed;
// unknown keys are swallowed silently.
func BinaryDeletes(key string) DeleteAction {
	if key == "mode" || key == "value" {
		return DeleteNoop
	}
	return DeleteSwallow
}
