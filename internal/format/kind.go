package format

// Kind is one of the three Drive editor document types.
type Kind string

const (
	KindDocument     Kind = "document"
	KindSpreadsheet  Kind = "spreadsheet"
	KindPresentation Kind = "presentation"
)

// KindForDriveMimetype maps a native Drive mimetype back to its kind.
func KindForDriveMimetype(mimetype string) (Kind, bool) {
	switch mimetype {
	case MimetypeGoogleDocument:
		return KindDocument, true
	case MimetypeGoogleSpreadsheet:
		return KindSpreadsheet, true
	case MimetypeGooglePresentation:
		return KindPresentation, true
	default:
		return "", false
	}
}

// KindFromString parses a kind name as supplied by clients.
func KindFromString(s string) (Kind, bool) {
	switch Kind(s) {
	case KindDocument, KindSpreadsheet, KindPresentation:
		return Kind(s), true
	default:
		return "", false
	}
}

// DriveMimetype returns the native Drive mimetype for the kind.
func (k Kind) DriveMimetype() string {
	switch k {
	case KindDocument:
		return MimetypeGoogleDocument
	case KindSpreadsheet:
		return MimetypeGoogleSpreadsheet
	case KindPresentation:
		return MimetypeGooglePresentation
	}
	return ""
}

// LocalMimetype returns the repository mimetype a freshly created document of
// this kind is given when exported back.
func (k Kind) LocalMimetype() string {
	switch k {
	case KindDocument:
		return MimetypeDocument
	case KindSpreadsheet:
		return MimetypeSpreadsheet
	case KindPresentation:
		return MimetypePresentation
	}
	return ""
}

// DefaultName returns the name given to a new document of this kind when the
// caller supplies none. The extension matches LocalMimetype.
func (k Kind) DefaultName() string {
	switch k {
	case KindDocument:
		return "Untitled Document.docx"
	case KindSpreadsheet:
		return "Untitled Spreadsheet.xlsx"
	case KindPresentation:
		return "Untitled Presentation.pptx"
	}
	return ""
}

// EditorURL builds the canonical edit link for a native file of this kind.
// It is preferred over the webViewLink Drive hands back, which can point at
// a viewer rather than the editor.
func (k Kind) EditorURL(fileID string) string {
	switch k {
	case KindDocument:
		return "https://docs.google.com/document/d/" + fileID + "/edit"
	case KindSpreadsheet:
		return "https://docs.google.com/spreadsheets/d/" + fileID + "/edit"
	case KindPresentation:
		return "https://docs.google.com/presentation/d/" + fileID + "/edit"
	}
	return ""
}

// Template returns the placeholder bytes written into a freshly created node
// before the first save pulls real content back from Drive.
func (k Kind) Template() []byte {
	// An empty OPC container. Nothing reads it locally; the first save
	// replaces it with the Drive export.
	return []byte{0x50, 0x4b, 0x05, 0x06, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0}
}
