package observe

import (
	"testing"

	"github.com/serdar/apiflow/internal/core/model"
)

func collectEvents(events *[]model.MutationEvent) Emitter {
	return func(ev model.MutationEvent) {
		*events = append(*events, ev)
	}
}

func TestStringOnlyRejectsNonStrings(t *testing.T) {
	var events []model.MutationEvent
	c := New(model.RegionCookies, StringOnly, nil, collectEvents(&events), nil)

	tests := []struct {
		name  string
		value any
		want  bool
	}{
		{"string accepted", "abc", true},
		{"int rejected", int64(42), false},
		{"map rejected", map[string]any{"a": 1}, false},
		{"nil rejected", nil, false},
		{"bool rejected", true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := len(events)
			got := c.Write("session", tt.value)
			if got != tt.want {
				t.Errorf("Write(%v) = %v, want %v", tt.value, got, tt.want)
			}
			if tt.want && len(events) != before+1 {
				t.Errorf("expected an event on acceptance")
			}
			if !tt.want && len(events) != before {
				t.Errorf("rejected write must not emit an event")
			}
		})
	}
}

func TestRejectedWriteLeavesContainerUnchanged(t *testing.T) {
	var events []model.MutationEvent
	c := New(model.RegionCookies, StringOnly, nil, collectEvents(&events), nil)

	if !c.Write("token", "abc") {
		t.Fatal("string write should be accepted")
	}
	if c.Write("token", int64(5)) {
		t.Fatal("non-string write should be rejected")
	}
	v, _ := c.Get("token")
	if v != "abc" {
		t.Errorf("container changed by rejected write: got %v", v)
	}
	if len(events) != 1 {
		t.Errorf("expected 1 event, got %d", len(events))
	}
}

func TestNestedJSONWrites(t *testing.T) {
	var events []model.MutationEvent
	c := New(model.RegionBodyJSON, AnyValue, nil, collectEvents(&events), nil)

	if !c.Write("a", map[string]any{"b": int64(1)}) {
		t.Fatal("object write should be accepted")
	}
	if !c.WriteAt([]string{"a", "b"}, int64(2)) {
		t.Fatal("nested write should be accepted")
	}

	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	snap := events[1].Snapshot
	a, ok := snap["a"].(map[string]any)
	if !ok {
		t.Fatalf("snapshot missing nested object: %v", snap)
	}
	if a["b"] != int64(2) {
		t.Errorf("second snapshot should reflect the nested write, got %v", a["b"])
	}
}

func TestNestedWriteIntoMissingPathRejected(t *testing.T) {
	var events []model.MutationEvent
	c := New(model.RegionBodyJSON, AnyValue, nil, collectEvents(&events), nil)

	if c.WriteAt([]string{"missing", "key"}, "v") {
		t.Error("write below a missing parent should be rejected")
	}
	if len(events) != 0 {
		t.Error("rejected nested write must not emit")
	}
}

func TestEventSnapshotIsACopy(t *testing.T) {
	var events []model.MutationEvent
	c := New(model.RegionBodyJSON, AnyValue, nil, collectEvents(&events), nil)

	c.Write("a", map[string]any{"b": int64(1)})
	c.WriteAt([]string{"a", "b"}, int64(2))

	first := events[0].Snapshot["a"].(map[string]any)
	if first["b"] != int64(1) {
		t.Errorf("earlier snapshot mutated by later write: got %v", first["b"])
	}
}

func TestBinaryRegionRules(t *testing.T) {
	var events []model.MutationEvent
	c := New(model.RegionBodyBinary, BinaryValue, BinaryDeletes, collectEvents(&events), nil)
	c.Seed(map[string]any{"mode": "variable", "value": ""})

	if !c.Write("mode", "file") {
		t.Error("mode=file should be accepted")
	}
	if c.Write("mode", "stream") {
		t.Error("unknown mode must be rejected")
	}
	if c.Write("extra", "x") {
		t.Error("keys other than mode/value must be rejected")
	}
	if !c.Write("value", "/tmp/data.bin") {
		t.Error("value string should be accepted")
	}
}

func TestBinaryDeleteIsObservedNoop(t *testing.T) {
	var events []model.MutationEvent
	c := New(model.RegionBodyBinary, BinaryValue, BinaryDeletes, collectEvents(&events), nil)
	c.Seed(map[string]any{"mode": "file", "value": "/tmp/x"})

	if !c.Delete("mode") {
		t.Fatal("delete must report accepted")
	}
	if len(events) != 1 || events[0].Kind != model.EventDelete {
		t.Fatalf("delete must emit a delete event, got %v", events)
	}
	v, _ := c.Get("mode")
	if v != "file" {
		t.Errorf("delete of binary mode must not change the value, got %v", v)
	}

	if !c.Delete("other") {
		t.Fatal("delete of unknown binary key must still report accepted")
	}
	if len(events) != 1 {
		t.Error("swallowed delete must not emit")
	}
}

func TestFormFieldCoercion(t *testing.T) {
	var events []model.MutationEvent
	c := New(model.RegionBodyFormData, FormFieldValue, nil, collectEvents(&events), nil)

	if !c.Write("name", "alice") {
		t.Fatal("bare string should be coerced")
	}
	v, _ := c.Get("name")
	f, ok := v.(model.FormField)
	if !ok || f.Kind != model.FormFieldString || f.Value != "alice" {
		t.Errorf("bare string should coerce to a string field, got %#v", v)
	}

	if !c.Write("upload", map[string]any{"kind": "file", "path": "/tmp/a.png"}) {
		t.Fatal("explicit file shape should be accepted")
	}
	v, _ = c.Get("upload")
	f = v.(model.FormField)
	if f.Kind != model.FormFieldFile || f.Path != "/tmp/a.png" {
		t.Errorf("file field not stored: %#v", f)
	}

	rejects := []any{
		int64(3),
		map[string]any{"kind": "blob"},
		map[string]any{"kind": "file"}, // missing path
		map[string]any{"kind": "string", "value": int64(1)},
		[]any{"a"},
	}
	for _, bad := range rejects {
		if c.Write("bad", bad) {
			t.Errorf("value %#v should be rejected", bad)
		}
	}
}

func TestDeleteEmitsFullSnapshot(t *testing.T) {
	var events []model.MutationEvent
	c := New(model.RegionHeaders, HeaderValue, nil, collectEvents(&events), nil)
	c.Seed(map[string]any{"A": "1", "B": "2"})

	c.Delete("A")
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	snap := events[0].Snapshot
	if _, ok := snap["A"]; ok {
		t.Error("deleted key still in snapshot")
	}
	if snap["B"] != "2" {
		t.Error("snapshot must be the complete region state")
	}
}

func TestHeaderNullValue(t *testing.T) {
	c := New(model.RegionHeaders, HeaderValue, nil, nil, nil)

	if !c.Write("User-Agent", nil) {
		t.Fatal("nil header value should be accepted (suppresses default)")
	}
	v, ok := c.Get("User-Agent")
	if !ok || v != nil {
		t.Errorf("expected stored nil, got %v", v)
	}
}
