package engine

import (
	"strings"
	"testing"
)

func TestClassifyMagicBeatsHeader(t *testing.T) {
	pdf := []byte("%PDF-1.4\n%\xe2\xe3\xcf\xd3\n1 0 obj\n")
	class, diag := Classify(pdf, "application/json")
	if class != ClassPDF {
		t.Errorf("class = %s, want pdf (magic bytes win over the declared header)", class)
	}
	if diag != "" {
		t.Errorf("unexpected diagnostic: %q", diag)
	}
}

func TestClassifyImageByMagic(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	class, _ := Classify(png, "text/plain")
	if class != ClassImage {
		t.Errorf("class = %s, want image", class)
	}
}

func TestClassifyHeaderTiers(t *testing.T) {
	body := []byte("plain looking body")
	tests := []struct {
		contentType string
		want        ContentClass
	}{
		{"application/json", ClassJSON},
		{"application/json; charset=utf-8", ClassJSON},
		{"text/html", ClassHTML},
		{"text/css", ClassCSS},
		{"application/javascript", ClassJS},
		{"text/ecmascript", ClassJS},
		{"text/csv", ClassText},
		{"application/xml", ClassXML},
	}
	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			class, _ := Classify(body, tt.contentType)
			if class != tt.want {
				t.Errorf("Classify(%q) = %s, want %s", tt.contentType, class, tt.want)
			}
		})
	}
}

func TestClassifySniffedFallback(t *testing.T) {
	class, _ := Classify([]byte(`{"a": 1}`), "")
	if class != ClassJSON {
		t.Errorf("class = %s, want json from sniffing", class)
	}

	class, _ = Classify([]byte("just some words"), "")
	if class != ClassText {
		t.Errorf("class = %s, want text from sniffing", class)
	}
}

func TestClassifyUnknownCarriesDiagnostic(t *testing.T) {
	blob := []byte{0x00, 0x01, 0x02, 0x03, 0xff, 0xfe}
	class, diag := Classify(blob, "application/x-custom")
	if class != ClassUnknown {
		t.Fatalf("class = %s, want unknown", class)
	}
	if !strings.Contains(diag, "application/x-custom") {
		t.Errorf("diagnostic should carry the declared header: %q", diag)
	}
	if !strings.Contains(diag, "sniffed") {
		t.Errorf("diagnostic should carry the sniffed type: %q", diag)
	}
}
