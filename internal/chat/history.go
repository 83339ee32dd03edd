// Package chat models conversation history as an append-only sequence of
// tagged entries. An entry is a small JSON object whose keys identify what it
// records; composite records carry several tags at once.
package chat

import (
	"fmt"
	"strings"
)

// Entry tags. An entry holds one recognized tag, except the full query
// response record which carries TagSource, TagQueryReferences and
// TagReadableReference together.
const (
	TagHuman             = "HumanInput"
	TagAI                = "AIOutput"
	TagFile              = "UploadedFile"
	TagFileURL           = "FileURL"
	TagFileBase64        = "FileContentsBase64"
	TagFileType          = "FileType"
	TagSource            = "Source"
	TagQueryResult       = "QueryResult"
	TagQueryReferences   = "QueryReferences"
	TagReadableReference = "ReadableQueryReference"
)

// Entry is one record in a conversation history.
type Entry map[string]any

func IsHuman(e Entry) bool       { _, ok := e[TagHuman]; return ok }
func IsAI(e Entry) bool          { _, ok := e[TagAI]; return ok }
func IsFileBytes(e Entry) bool   { _, ok := e[TagFileBase64]; return ok }
func IsFileURI(e Entry) bool     { _, ok := e[TagFileURL]; return ok }
func IsSource(e Entry) bool      { _, ok := e[TagSource]; return ok }
func IsQueryResult(e Entry) bool { _, ok := e[TagQueryResult]; return ok }

// IsFullQueryResponse recognizes the composite record written after a
// retrieval query: all three of source, references and the readable
// rendering must be present.
func IsFullQueryResponse(e Entry) bool {
	return IsSource(e) && hasKey(e, TagQueryReferences) && hasKey(e, TagReadableReference)
}

func hasKey(e Entry, tag string) bool { _, ok := e[tag]; return ok }

func text(e Entry, tag string) string {
	s, _ := e[tag].(string)
	return s
}

// HumanText and AIText return the entry's text, empty if the tag is absent.
func HumanText(e Entry) string { return text(e, TagHuman) }
func AIText(e Entry) string    { return text(e, TagAI) }

// SourceRef identifies the query engine a retrieval record came from.
type SourceRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Reference is one retrieved passage in a query response record.
type Reference struct {
	Chunk    string `json:"chunk_id"`
	Document string `json:"document"`
	Text     string `json:"text,omitempty"`
	Page     int    `json:"page,omitempty"`
}

// Exchange returns the two entries recording one prompt/response pair.
func Exchange(prompt, response string) []Entry {
	return []Entry{{TagHuman: prompt}, {TagAI: response}}
}

// FileEntry records an uploaded file by inline base64 contents or by URL.
func FileEntry(name, mime, base64Data, url string) Entry {
	e := Entry{TagFile: name, TagFileType: mime}
	if base64Data != "" {
		e[TagFileBase64] = base64Data
	}
	if url != "" {
		e[TagFileURL] = url
	}
	return e
}

// QueryResponseEntry records a completed retrieval query: the source engine,
// the raw references, and a readable rendering of them.
func QueryResponseEntry(source SourceRef, refs []Reference, readable string) Entry {
	return Entry{
		TagSource:            source,
		TagQueryReferences:   refs,
		TagReadableReference: readable,
	}
}

// RenderQueryResponse produces the human-readable line shown in place of a
// full query response record. Empty for any other entry kind.
func RenderQueryResponse(e Entry) string {
	if !IsFullQueryResponse(e) {
		return ""
	}
	name := ""
	switch src := e[TagSource].(type) {
	case SourceRef:
		name = src.Name
	case map[string]any:
		name, _ = src["name"].(string)
	}
	return fmt.Sprintf("A search of the %s Source produced these references: %s",
		name, text(e, TagReadableReference))
}

// Flatten renders the textual turns of a history into the context block used
// for prompt assembly. Human and AI entries become alternating labeled
// lines; full query responses become their readable rendering; file and
// other non-text records are skipped. Order is preserved.
func Flatten(history []Entry) string {
	var lines []string
	for _, e := range history {
		switch {
		case IsHuman(e):
			lines = append(lines, "Human input: "+HumanText(e))
		case IsAI(e):
			lines = append(lines, "AI response: "+AIText(e))
		case IsFullQueryResponse(e):
			lines = append(lines, RenderQueryResponse(e))
		}
	}
	return strings.Join(lines, "\n\n")
}
