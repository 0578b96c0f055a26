package runner

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/tidwall/pretty"
)

// PrintText outputs a result in human-readable format.
func PrintText(w io.Writer, r *Result, verbose bool) {
	icon := "✓"
	if r.Error != nil {
		icon = "✗"
	}

	if r.Error != nil {
		fmt.Fprintf(w, "%s %-6s %s\n", icon, r.Method, r.URL)
		fmt.Fprintf(w, "  └ Error: %s\n", r.Error)
	} else {
		fmt.Fprintf(w, "%s %-6s %s  %d  %s  %s\n",
			icon, r.Method, r.URL, r.StatusCode,
			r.Duration.Round(time.Millisecond).String(),
			humanize.IBytes(uint64(r.Size)))
	}

	for _, log := range r.ScriptLogs {
		fmt.Fprintf(w, "  [log] %s\n", log)
	}

	if verbose && len(r.MutationTags) > 0 {
		fmt.Fprintf(w, "  mutations: %s\n", strings.Join(r.MutationTags, ", "))
	}

	if verbose && len(r.RedirectChain) > 0 {
		for _, hop := range r.RedirectChain {
			fmt.Fprintf(w, "  → %s\n", hop)
		}
	}

	if verbose && len(r.Body) > 0 {
		fmt.Fprintf(w, "  --- Response Body (%s) ---\n", r.ContentClass)
		body := r.Body
		if r.ContentClass == "json" {
			body = pretty.Pretty(body)
		}
		for _, line := range strings.Split(strings.TrimRight(string(body), "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

// PrintJSON outputs a result as JSON.
func PrintJSON(w io.Writer, r *Result) error {
	if r.Error != nil {
		r.ErrorString = r.Error.Error()
	}
	if len(r.Body) > 0 && isTextual(r.ContentClass) {
		r.BodyString = string(r.Body)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func isTextual(class string) bool {
	switch class {
	case "json", "html", "css", "js", "text", "xml":
		return true
	}
	return false
}
