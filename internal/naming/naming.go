// Package naming normalizes node filenames after a round-trip through the
// Drive editors, where the stored format may no longer match the name's
// extension, and resolves duplicate names within a folder.
package naming

import (
	"fmt"
	"mime"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/contentworks/drivebridge/internal/format"
)

var incrementSuffix = regexp.MustCompile(`-(\d+)$`)

// modern extension per OOXML mimetype, with the legacy extension it
// supersedes.
var ooxmlExtensions = map[string]struct{ modern, legacy string }{
	format.MimetypeDocument:     {".docx", ".doc"},
	format.MimetypeSpreadsheet:  {".xlsx", ".xls"},
	format.MimetypePresentation: {".pptx", ".ppt"},
}

// Normalize adjusts name so its extension matches mimetype.
//
// OOXML content keeps an existing legacy extension's stem and appends "x"
// (report.doc becomes report.docx); a missing extension is appended whole.
// OpenDocument Text strips a StarOffice ".sxw" extension before appending
// ".odt". Anything else gets the extension the platform mime tables suggest,
// if the name doesn't already carry it. Names that already match are
// returned unchanged.
func Normalize(mimetype, name string) string {
	lower := strings.ToLower(name)

	if exts, ok := ooxmlExtensions[mimetype]; ok {
		if strings.HasSuffix(lower, exts.modern) {
			return name
		}
		if strings.HasSuffix(lower, exts.legacy) {
			return name + "x"
		}
		return name + exts.modern
	}

	if mimetype == format.MimetypeODT {
		if strings.HasSuffix(lower, ".odt") {
			return name
		}
		if strings.HasSuffix(lower, ".sxw") {
			return name[:len(name)-len(".sxw")] + ".odt"
		}
		return name + ".odt"
	}

	ext := extensionFor(mimetype)
	if ext == "" || strings.HasSuffix(lower, ext) {
		return name
	}
	return name + ext
}

// Increment produces the next candidate name for a duplicate: the first call
// appends "-1" before the extension, later calls bump the counter.
func Increment(name string) string {
	ext := path.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	if m := incrementSuffix.FindStringSubmatch(stem); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return fmt.Sprintf("%s-%d%s", stem[:len(stem)-len(m[0])], n+1, ext)
		}
	}
	return stem + "-1" + ext
}

// Unique returns name, incremented as often as needed until taken reports
// false. taken is consulted for every candidate including name itself.
func Unique(name string, taken func(string) bool) string {
	for taken(name) {
		name = Increment(name)
	}
	return name
}

func extensionFor(mimetype string) string {
	exts, err := mime.ExtensionsByType(mimetype)
	if err != nil || len(exts) == 0 {
		return ""
	}
	// mime returns extensions unordered; prefer the shortest for stable
	// results across platforms.
	best := exts[0]
	for _, e := range exts[1:] {
		if len(e) < len(best) {
			best = e
		}
	}
	return best
}
