package engine

import (
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// ContentClass is the coarse response classification used by consumers to
// pick a rendering strategy.
type ContentClass string

const (
	ClassJSON    ContentClass = "json"
	ClassHTML    ContentClass = "html"
	ClassCSS     ContentClass = "css"
	ClassJS      ContentClass = "js"
	ClassText    ContentClass = "text"
	ClassXML     ContentClass = "xml"
	ClassImage   ContentClass = "image"
	ClassPDF     ContentClass = "pdf"
	ClassExcel   ContentClass = "excel"
	ClassWord    ContentClass = "word"
	ClassPPT     ContentClass = "ppt"
	ClassVideo   ContentClass = "video"
	ClassUnknown ContentClass = "unknown"
)

// Classify determines the content class of a buffered response body. Magic
// bytes are examined first and win over the declared header; only when
// sniffing is inconclusive does the Content-Type header decide, in the order
// json, html, css, js, generic text, xml. Unclassifiable responses get a
// diagnostic string carrying both the header and the sniffed type.
func Classify(body []byte, contentType string) (ContentClass, string) {
	sniffed := mimetype.Detect(body)
	if class, ok := classFromMagic(sniffed); ok {
		return class, ""
	}

	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return ClassJSON, ""
	case strings.Contains(ct, "html"):
		return ClassHTML, ""
	case strings.Contains(ct, "css"):
		return ClassCSS, ""
	case strings.Contains(ct, "javascript"), strings.Contains(ct, "ecmascript"):
		return ClassJS, ""
	case strings.HasPrefix(ct, "text/"):
		return ClassText, ""
	case strings.Contains(ct, "xml"):
		return ClassXML, ""
	}

	// Last resort: sniffed textual types.
	switch {
	case sniffed.Is("application/json"):
		return ClassJSON, ""
	case sniffed.Is("text/html"):
		return ClassHTML, ""
	case sniffed.Is("text/plain"):
		return ClassText, ""
	}

	diag := fmt.Sprintf("unclassified response: content-type %q, sniffed %q", contentType, sniffed.String())
	return ClassUnknown, diag
}

// classFromMagic maps a magic-byte-confirmed type onto a content class. Only
// formats with reliable signatures are decided here; plain-text flavors fall
// through to the header tiers.
func classFromMagic(mt *mimetype.MIME) (ContentClass, bool) {
	switch {
	case mt.Is("application/pdf"):
		return ClassPDF, true
	case mt.Is("application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"),
		mt.Is("application/vnd.ms-excel"):
		return ClassExcel, true
	case mt.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"),
		mt.Is("application/msword"):
		return ClassWord, true
	case mt.Is("application/vnd.openxmlformats-officedocument.presentationml.presentation"),
		mt.Is("application/vnd.ms-powerpoint"):
		return ClassPPT, true
	case strings.HasPrefix(mt.String(), "image/"):
		return ClassImage, true
	case strings.HasPrefix(mt.String(), "video/"):
		return ClassVideo, true
	case mt.Is("text/xml"), mt.Is("application/xml"):
		return ClassXML, true
	}
	return "", false
}
