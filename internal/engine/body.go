package engine

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"

	"github.com/serdar/apiflow/internal/core/model"
)

// MaxFileSize caps file-backed body parts. Files are buffered in memory
// before transfer, so the cap is the safeguard against unbounded growth.
const MaxFileSize = 10 * 1024 * 1024

// Body tags the request body variant handed to the engine.
type Body interface{ isBody() }

// StringBody is a plain text body (raw, json, urlencoded — already encoded).
type StringBody string

// BytesBody is a pre-resolved binary body.
type BytesBody []byte

// FileBody is a binary body read from a single file path, subject to the
// existence/regular-file/size checks.
type FileBody string

// FormPart is one ordered multipart form entry.
type FormPart struct {
	Key   string
	Field model.FormField
}

// FormBody is an ordered list of multipart form entries.
type FormBody []FormPart

func (StringBody) isBody() {}
func (BytesBody) isBody()  {}
func (FileBody) isBody()   {}
func (FormBody) isBody()   {}

// FileError is a structured file-access failure. It is returned as data, not
// raised, so batch operations can report which field failed.
type FileError struct {
	Message string
	Detail  string
}

func (e *FileError) Error() string {
	if e.Detail == "" {
		return e.Message
	}
	return e.Message + ": " + e.Detail
}

// FileReadOutcome is either raw bytes or a structured error, never both.
type FileReadOutcome struct {
	Data []byte
	Err  *FileError
}

// ReadFileChecked reads path after verifying it exists, is a regular file and
// does not exceed MaxFileSize. Produced fresh per body build, never cached.
func ReadFileChecked(path string) FileReadOutcome {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileReadOutcome{Err: &FileError{Message: "file not found", Detail: path}}
		}
		return FileReadOutcome{Err: &FileError{Message: "cannot access file", Detail: path}}
	}
	if !info.Mode().IsRegular() {
		return FileReadOutcome{Err: &FileError{Message: "not a regular file", Detail: path}}
	}
	if info.Size() > MaxFileSize {
		return FileReadOutcome{Err: &FileError{
			Message: fmt.Sprintf("file exceeds %s limit", humanize.IBytes(MaxFileSize)),
			Detail:  fmt.Sprintf("%s (%s)", path, humanize.IBytes(uint64(info.Size()))),
		}}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileReadOutcome{Err: &FileError{Message: "reading file", Detail: path}}
	}
	return FileReadOutcome{Data: data}
}

// BuildMultipart assembles a multipart/form-data body. A single bad file
// field halts the whole build; the returned error names the offending field
// and no partial buffer is produced.
func BuildMultipart(parts FormBody) ([]byte, string, *FileError) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, part := range parts {
		switch part.Field.Kind {
		case model.FormFieldFile:
			outcome := ReadFileChecked(part.Field.Path)
			if outcome.Err != nil {
				outcome.Err.Detail = fmt.Sprintf("field %q: %s", part.Key, outcome.Err.Detail)
				return nil, "", outcome.Err
			}
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`,
				part.Key, filepath.Base(part.Field.Path)))
			h.Set("Content-Type", DetectMime(part.Field.Path, outcome.Data))
			fw, err := w.CreatePart(h)
			if err != nil {
				return nil, "", &FileError{Message: "building multipart body", Detail: part.Key}
			}
			if _, err := fw.Write(outcome.Data); err != nil {
				return nil, "", &FileError{Message: "building multipart body", Detail: part.Key}
			}
		default:
			if err := w.WriteField(part.Key, part.Field.Value); err != nil {
				return nil, "", &FileError{Message: "building multipart body", Detail: part.Key}
			}
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", &FileError{Message: "building multipart body"}
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// DetectMime classifies a file part by sniffing its content first, falling
// back to the filename extension. TypeScript sources get a fixed override:
// their leading bytes can be confused with an MPEG transport stream.
func DetectMime(path string, data []byte) string {
	if strings.EqualFold(filepath.Ext(path), ".ts") {
		return "text/plain; charset=utf-8"
	}
	mt := mimetype.Detect(data)
	if mt.String() != "application/octet-stream" {
		return mt.String()
	}
	if byExt := mime.TypeByExtension(filepath.Ext(path)); byExt != "" {
		return byExt
	}
	return mt.String()
}
