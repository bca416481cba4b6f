package dispatcher

// Minimal local JSON shapes for the handful of LSP payloads the dispatcher
// reads fields out of directly. Kept hand-rolled rather than routed through
// lsprotocol-go's generated structs: didChange's contentChanges entries are
// a union (full-replacement vs. incremental edit) whose exact generated
// field names and optionality this repository's retrieved reference
// material does not demonstrate, and guessing wrong here would silently
// misroute document state. The one generated shape actually exercised
// elsewhere (protocol.ProgressParams, for warmup-end detection) is used
// because its field usage is directly grounded in lsp/progress.go.

type textDocumentIdentifier struct {
	URI string `json:"uri"`
}

type uriHolder struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

type textDocumentItem struct {
	URI        string `json:"uri"`
	LanguageID string `json:"languageId"`
	Version    int32  `json:"version"`
	Text       string `json:"text"`
}

type didOpenParams struct {
	TextDocument textDocumentItem `json:"textDocument"`
}

type versionedTextDocumentIdentifier struct {
	URI     string `json:"uri"`
	Version int32  `json:"version"`
}

type lspPosition struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

type lspRange struct {
	Start lspPosition `json:"start"`
	End   lspPosition `json:"end"`
}

type contentChangeEvent struct {
	Range *lspRange `json:"range,omitempty"`
	Text  string    `json:"text"`
}

type didChangeParams struct {
	TextDocument   versionedTextDocumentIdentifier `json:"textDocument"`
	ContentChanges []contentChangeEvent            `json:"contentChanges"`
}

type didCloseParams struct {
	TextDocument textDocumentIdentifier `json:"textDocument"`
}

type publishDiagnosticsParams struct {
	URI         string        `json:"uri"`
	Diagnostics []interface{} `json:"diagnostics"`
}
