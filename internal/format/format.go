// Package format holds the mimetype policy tables deciding what can be
// imported into the Drive editors, what can be exported back, and which
// formats must be substituted (upgraded or downgraded) on round-trip.
// A Policy is built once at startup and never mutated.
package format

import "errors"

// Drive-side mimetypes.
const (
	GoogleMimetypePrefix = "application/vnd.google-apps."

	MimetypeGoogleDocument     = GoogleMimetypePrefix + "document"
	MimetypeGoogleSpreadsheet  = GoogleMimetypePrefix + "spreadsheet"
	MimetypeGooglePresentation = GoogleMimetypePrefix + "presentation"
	MimetypeGoogleFolder       = GoogleMimetypePrefix + "folder"
)

// Repository-side mimetypes.
const (
	MimetypeDocument     = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimetypeSpreadsheet  = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimetypePresentation = "application/vnd.openxmlformats-officedocument.presentationml.presentation"

	MimetypeWord       = "application/msword"
	MimetypeExcel      = "application/vnd.ms-excel"
	MimetypePowerPoint = "application/vnd.ms-powerpoint"

	MimetypeODT = "application/vnd.oasis.opendocument.text"
	MimetypeODS = "application/vnd.oasis.opendocument.spreadsheet"
	MimetypeODP = "application/vnd.oasis.opendocument.presentation"
)

// Working directory layout on Drive.
const (
	RootFolderID          = "root"
	WorkingFolderName     = "Alfresco Working Directory"
	WorkingFolderDesc     = "Alfresco - Google Docs Working Directory"
	SharedFilesFolderName = "Shared Files"
	MyFilesFolderName     = "My Files"
)

var (
	// ErrMustUpgrade signals that a mimetype cannot round-trip directly and
	// the caller must substitute the mapped modern format.
	ErrMustUpgrade = errors.New("format must be upgraded before export")

	// ErrMustDowngrade signals that a mimetype cannot round-trip directly and
	// the caller must substitute the mapped legacy format.
	ErrMustDowngrade = errors.New("format must be downgraded before export")
)

// Policy is the immutable set of format mapping tables. Construct with
// DefaultPolicy and share by reference; it is safe for concurrent use.
type Policy struct {
	importFormats     map[string]Kind
	exportFormats     map[Kind]map[string]struct{}
	upgradeMappings   map[string]string
	downgradeMappings map[string]string
}

// DefaultPolicy returns the standard mapping tables.
func DefaultPolicy() *Policy {
	return &Policy{
		importFormats: map[string]Kind{
			MimetypeDocument:     KindDocument,
			MimetypeWord:         KindDocument,
			MimetypeODT:          KindDocument,
			MimetypeSpreadsheet:  KindSpreadsheet,
			MimetypeExcel:        KindSpreadsheet,
			MimetypeODS:          KindSpreadsheet,
			MimetypePresentation: KindPresentation,
			MimetypePowerPoint:   KindPresentation,
			MimetypeODP:          KindPresentation,
		},
		exportFormats: map[Kind]map[string]struct{}{
			KindDocument:     {MimetypeDocument: {}, MimetypeODT: {}},
			KindSpreadsheet:  {MimetypeSpreadsheet: {}},
			KindPresentation: {MimetypePresentation: {}},
		},
		upgradeMappings: map[string]string{
			MimetypeWord:       MimetypeDocument,
			MimetypeExcel:      MimetypeSpreadsheet,
			MimetypePowerPoint: MimetypePresentation,
		},
		downgradeMappings: map[string]string{
			MimetypeODS: MimetypeSpreadsheet,
			MimetypeODP: MimetypePresentation,
		},
	}
}

// IsImportable reports whether the mimetype can be sent to the Drive editors.
func (p *Policy) IsImportable(mimetype string) bool {
	_, ok := p.importFormats[mimetype]
	return ok
}

// ImportKind returns the Drive document kind a mimetype imports as.
func (p *Policy) ImportKind(mimetype string) (Kind, bool) {
	k, ok := p.importFormats[mimetype]
	return k, ok
}

// IsExportable reports whether content of the given mimetype can be brought
// back from Drive as-is. Mimetypes in the upgrade or downgrade tables signal
// with ErrMustUpgrade / ErrMustDowngrade instead of returning false, since
// the caller must react by substituting the mapped format. A mimetype in no
// table at all is simply not exportable.
func (p *Policy) IsExportable(mimetype string) (bool, error) {
	if _, ok := p.upgradeMappings[mimetype]; ok {
		return false, ErrMustUpgrade
	}
	if _, ok := p.downgradeMappings[mimetype]; ok {
		return false, ErrMustDowngrade
	}
	kind, ok := p.importFormats[mimetype]
	if !ok {
		return false, nil
	}
	_, ok = p.exportFormats[kind][mimetype]
	return ok, nil
}

// ExportMimetype maps a node's mimetype to the mimetype requested from the
// Drive export endpoint, applying the downgrade then upgrade substitutions.
func (p *Policy) ExportMimetype(mimetype string) string {
	if to, ok := p.downgradeMappings[mimetype]; ok {
		return to
	}
	if to, ok := p.upgradeMappings[mimetype]; ok {
		return to
	}
	return mimetype
}

// UpgradeMappings returns a copy of the upgrade table, for diagnostics and
// tests.
func (p *Policy) UpgradeMappings() map[string]string {
	out := make(map[string]string, len(p.upgradeMappings))
	for k, v := range p.upgradeMappings {
		out[k] = v
	}
	return out
}

// DowngradeMappings returns a copy of the downgrade table.
func (p *Policy) DowngradeMappings() map[string]string {
	out := make(map[string]string, len(p.downgradeMappings))
	for k, v := range p.downgradeMappings {
		out[k] = v
	}
	return out
}

// IsGoogleMimetype reports whether the mimetype belongs to a native Drive
// editor document.
func IsGoogleMimetype(mimetype string) bool {
	return len(mimetype) > len(GoogleMimetypePrefix) && mimetype[:len(GoogleMimetypePrefix)] == GoogleMimetypePrefix
}
