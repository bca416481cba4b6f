// Package textedit applies LSP incremental range edits to cached document
// text using LSP's UTF-16-code-unit column semantics.
package textedit

import (
	"unicode/utf16"

	"github.com/K-dash/pyright-lsp-proxy/errs"
)

// Range is an LSP range expressed in (line, UTF-16 character) pairs.
type Range struct {
	StartLine, StartCharacter int
	EndLine, EndCharacter     int
}

// ApplyIncremental replaces the portion of text described by r with newText
// and returns the resulting document. It does not mutate the input.
func ApplyIncremental(text string, r Range, newText string) (string, error) {
	startOffset, err := PositionToOffset(text, r.StartLine, r.StartCharacter)
	if err != nil {
		return "", err
	}
	endOffset, err := PositionToOffset(text, r.EndLine, r.EndCharacter)
	if err != nil {
		return "", err
	}

	if startOffset > endOffset {
		return "", errs.NewInvalidMessage("invalid range: start offset (%d) > end offset (%d)", startOffset, endOffset)
	}

	return text[:startOffset] + newText + text[endOffset:], nil
}

// PositionToOffset converts an LSP (line, character) position to a byte
// offset into text, where character counts UTF-16 code units.
//
// A line equal to the document's line count (i.e. exactly one past the
// final newline) is accepted as the empty line at end-of-file; any line
// strictly beyond that fails.
func PositionToOffset(text string, line, character int) (int, error) {
	currentLine := 0
	lineStart := 0

	for i, r := range text {
		if r == '\n' {
			if currentLine == line {
				return findOffsetInLine(text, lineStart, i, character), nil
			}
			currentLine++
			lineStart = i + 1
		}
	}

	if currentLine == line {
		return findOffsetInLine(text, lineStart, len(text), character), nil
	}

	return 0, errs.NewInvalidMessage("position out of range: line=%d (max=%d), character=%d", line, currentLine, character)
}

// findOffsetInLine walks the line's runes counting UTF-16 code units,
// clamping character to the end of the line if it overruns.
func findOffsetInLine(text string, lineStart, lineEnd, character int) int {
	utf16Offset := 0
	for i, r := range text[lineStart:lineEnd] {
		if utf16Offset >= character {
			return lineStart + i
		}
		utf16Offset += utf16.RuneLen(r)
	}
	return lineEnd
}
