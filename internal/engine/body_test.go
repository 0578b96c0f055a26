package engine

import (
	"bytes"
	"mime"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/serdar/apiflow/internal/core/model"
)

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}

func TestReadFileCheckedMissing(t *testing.T) {
	outcome := ReadFileChecked(filepath.Join(t.TempDir(), "nope.bin"))
	if outcome.Err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if outcome.Err.Message != "file not found" {
		t.Errorf("message = %q", outcome.Err.Message)
	}
	if outcome.Data != nil {
		t.Error("outcome must not carry data alongside an error")
	}
}

func TestReadFileCheckedDirectory(t *testing.T) {
	outcome := ReadFileChecked(t.TempDir())
	if outcome.Err == nil || outcome.Err.Message != "not a regular file" {
		t.Errorf("expected regular-file rejection, got %v", outcome.Err)
	}
}

func TestReadFileCheckedSizeBoundary(t *testing.T) {
	exact := writeTempFile(t, "exact.bin", make([]byte, MaxFileSize))
	if outcome := ReadFileChecked(exact); outcome.Err != nil {
		t.Errorf("file of exactly the limit should be accepted: %v", outcome.Err)
	}

	over := writeTempFile(t, "over.bin", make([]byte, MaxFileSize+1))
	outcome := ReadFileChecked(over)
	if outcome.Err == nil {
		t.Fatal("file one byte over the limit should be rejected")
	}
	if !strings.Contains(outcome.Err.Message, "limit") {
		t.Errorf("message should name the limit: %q", outcome.Err.Message)
	}
	if outcome.Data != nil {
		t.Error("rejected file must not return data")
	}
}

func TestBuildMultipartMissingFileNamesField(t *testing.T) {
	parts := FormBody{
		{Key: "name", Field: model.FormField{Kind: model.FormFieldString, Value: "alice"}},
		{Key: "upload", Field: model.FormField{Kind: model.FormFieldFile, Path: "/does/not/exist.bin"}},
	}
	data, ct, err := BuildMultipart(parts)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Detail, `field "upload"`) {
		t.Errorf("error should name the failing field: %q", err.Detail)
	}
	if data != nil || ct != "" {
		t.Error("failed build must not produce a partial buffer")
	}
}

func TestBuildMultipartRoundTrip(t *testing.T) {
	file := writeTempFile(t, "payload.txt", []byte("file contents"))
	parts := FormBody{
		{Key: "name", Field: model.FormField{Kind: model.FormFieldString, Value: "alice"}},
		{Key: "upload", Field: model.FormField{Kind: model.FormFieldFile, Path: file}},
	}
	data, ct, ferr := BuildMultipart(parts)
	if ferr != nil {
		t.Fatalf("build: %v", ferr)
	}

	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != "multipart/form-data" {
		t.Fatalf("content type = %q", ct)
	}
	mr := multipart.NewReader(bytes.NewReader(data), params["boundary"])
	form, err := mr.ReadForm(1 << 20)
	if err != nil {
		t.Fatalf("parse form: %v", err)
	}
	defer form.RemoveAll()

	if got := form.Value["name"]; len(got) != 1 || got[0] != "alice" {
		t.Errorf("string field = %v", got)
	}
	files := form.File["upload"]
	if len(files) != 1 || files[0].Filename != "payload.txt" {
		t.Fatalf("file field = %v", files)
	}
	f, err := files[0].Open()
	if err != nil {
		t.Fatalf("open part: %v", err)
	}
	defer f.Close()
	var buf bytes.Buffer
	buf.ReadFrom(f)
	if buf.String() != "file contents" {
		t.Errorf("file part body = %q", buf.String())
	}
}

func TestDetectMime(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	tests := []struct {
		name string
		path string
		data []byte
		want string
	}{
		{"typescript override", "app.ts", []byte("const x = 1;"), "text/plain; charset=utf-8"},
		{"png by magic", "image.bin", png, "image/png"},
		{"plain text", "notes.txt", []byte("hello"), "text/plain; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DetectMime(tt.path, tt.data)
			if got != tt.want {
				t.Errorf("DetectMime(%s) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}
