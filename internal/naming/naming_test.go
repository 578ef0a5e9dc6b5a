package naming

import (
	"testing"

	"github.com/contentworks/drivebridge/internal/format"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		mimetype string
		name     string
		want     string
	}{
		{format.MimetypeDocument, "report.doc", "report.docx"},
		{format.MimetypeDocument, "report.docx", "report.docx"},
		{format.MimetypeDocument, "report", "report.docx"},
		{format.MimetypeSpreadsheet, "budget.xls", "budget.xlsx"},
		{format.MimetypeSpreadsheet, "budget", "budget.xlsx"},
		{format.MimetypePresentation, "deck.ppt", "deck.pptx"},
		{format.MimetypePresentation, "deck.PPTX", "deck.PPTX"},
		{format.MimetypeODT, "notes.sxw", "notes.odt"},
		{format.MimetypeODT, "notes.odt", "notes.odt"},
		{format.MimetypeODT, "notes", "notes.odt"},
	}
	for _, tt := range tests {
		if got := Normalize(tt.mimetype, tt.name); got != tt.want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", tt.mimetype, tt.name, got, tt.want)
		}
	}
}

func TestNormalizeUnknownMimetype(t *testing.T) {
	// No extension table entry at all: left alone.
	if got := Normalize("application/x-unknown-thing", "blob"); got != "blob" {
		t.Errorf("Normalize unknown = %q, want blob", got)
	}
}

func TestIncrement(t *testing.T) {
	tests := []struct{ in, want string }{
		{"report.docx", "report-1.docx"},
		{"report-1.docx", "report-2.docx"},
		{"report-9.docx", "report-10.docx"},
		{"report", "report-1"},
		{"report-1", "report-2"},
		{"rep-ort.docx", "rep-ort-1.docx"},
	}
	for _, tt := range tests {
		if got := Increment(tt.in); got != tt.want {
			t.Errorf("Increment(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestUnique(t *testing.T) {
	used := map[string]bool{
		"report.docx":   true,
		"report-1.docx": true,
	}
	got := Unique("report.docx", func(n string) bool { return used[n] })
	if got != "report-2.docx" {
		t.Errorf("Unique = %q, want report-2.docx", got)
	}

	got = Unique("fresh.docx", func(n string) bool { return used[n] })
	if got != "fresh.docx" {
		t.Errorf("Unique = %q, want fresh.docx", got)
	}
}
