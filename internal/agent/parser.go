// Package agent drives plan-and-execute loops over the generation layer
// and parses the free-text output models produce for them.
//
// Model output is unstructured, so every parser here degrades instead of
// failing: no match returns an empty result, never an error.
package agent

import (
	"encoding/json"
	"regexp"
	"strings"
)

// A plan step starts at a line beginning with digits or '#' followed by a
// dot ("1.", "#2.") and runs until the next such line or end of text.
var stepStart = regexp.MustCompile(`(?m)^[ \t]*[\d#]+\.`)

// ParsePlan extracts numbered plan steps from the text after the last
// occurrence of header (matched case-insensitively, as a literal). Steps
// are returned trimmed, in order. Returns nil when no step parses.
func ParsePlan(header, text string) []string {
	part := afterHeader(header, text)
	locs := stepStart.FindAllStringIndex(part, -1)
	if locs == nil {
		return nil
	}
	steps := make([]string, 0, len(locs))
	for i, loc := range locs {
		end := len(part)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		if step := strings.TrimSpace(part[loc[0]:end]); step != "" {
			steps = append(steps, step)
		}
	}
	return steps
}

func afterHeader(header, text string) string {
	idx := strings.LastIndex(strings.ToLower(text), strings.ToLower(header))
	if idx < 0 {
		return text
	}
	return text[idx+len(header):]
}

// ResponsePrefix returns the text before the first occurrence of header,
// or the whole text when the header is absent. It recovers the prose a
// model emits before its plan.
func ResponsePrefix(header, text string) string {
	if i := strings.Index(text, header); i >= 0 {
		return text[:i]
	}
	return text
}

// Step is one parsed plan step: the tool named in square brackets and the
// input text that follows it.
type Step struct {
	Tool  string
	Input string
}

var stepParts = regexp.MustCompile(`(?s)[\d#]+\.\s.*\[(.*)\]\s?(.*)`)

// ParsePlanStep splits a single step line like "1. Use [query_tool] find
// recent filings" into its tool name and input. ok is false when the step
// carries no bracketed tool.
func ParsePlanStep(text string) (Step, bool) {
	m := stepParts.FindStringSubmatch(text)
	if m == nil {
		return Step{}, false
	}
	return Step{Tool: strings.TrimSpace(m[1]), Input: strings.TrimSpace(m[2])}, true
}

// TracePart is one segment of an execution trace. Type is "Action",
// "Observation" or "Thought", or empty for untyped text. When the segment
// body parses as JSON (optionally inside a ``` fence) it lands in JSON,
// otherwise in Text.
type TracePart struct {
	Type string         `json:"type,omitempty"`
	JSON map[string]any `json:"json_content,omitempty"`
	Text string         `json:"text_content,omitempty"`
}

var (
	traceMarker = regexp.MustCompile(`Action:|Observation:|Thought:|> Finished chain`)
	chainHead   = regexp.MustCompile(`(?s)^(Action|Observation|Thought):(.*)`)
	fencedBlock = regexp.MustCompile("(?s)^```(?:json)?(.*)```$")
)

// ParseExecutionTrace segments an agent execution log at Action:,
// Observation: and Thought: markers and classifies each segment. Text
// between markers that belongs to none of them comes back as an untyped
// part. Empty input returns nil.
func ParseExecutionTrace(text string) []TracePart {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	starts := []int{0}
	for _, loc := range traceMarker.FindAllStringIndex(text, -1) {
		if loc[0] != 0 {
			starts = append(starts, loc[0])
		}
	}
	starts = append(starts, len(text))

	var parts []TracePart
	for i := 0; i+1 < len(starts); i++ {
		seg := text[starts[i]:starts[i+1]]
		if strings.TrimSpace(seg) == "" {
			continue
		}
		parts = append(parts, parseTraceSegment(seg))
	}
	return parts
}

func parseTraceSegment(seg string) TracePart {
	m := chainHead.FindStringSubmatch(strings.TrimSpace(seg))
	if m == nil {
		return TracePart{Text: trimChainPrefix(seg)}
	}

	part := TracePart{Type: m[1]}
	body := strings.TrimSpace(m[2])
	jsonText := body
	if fm := fencedBlock.FindStringSubmatch(jsonText); fm != nil {
		jsonText = strings.TrimSpace(fm[1])
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText), &obj); err == nil {
		part.JSON = obj
		return part
	}
	part.Text = trimChainPrefix(body)
	return part
}

func trimChainPrefix(s string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "> "))
}
