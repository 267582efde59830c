// Package extract pulls the structured answer out of free-form model text.
//
// Models often wrap the JSON they were asked for in prose or code fences, so
// extraction is a permissive scan rather than a strict parse of the whole
// reply.
package extract

import (
	"strings"

	"github.com/tidwall/gjson"
)

// MaxSuggestions is the number of follow-up suggestions kept from a reply.
const MaxSuggestions = 3

// Payload is the structured part of a model reply.
type Payload struct {
	Answer      string
	Suggestions []string
	Raw         gjson.Result
}

// Extract finds the span from the first '{' to the last '}' and parses it as
// a JSON object. It returns the payload, the matched substring and true on
// success. When no span exists or it does not parse, it returns an empty
// payload, an empty string and false.
func Extract(text string) (Payload, string, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < 0 || end <= start {
		return Payload{}, "", false
	}

	candidate := text[start : end+1]
	if !gjson.Valid(candidate) {
		return Payload{}, "", false
	}
	parsed := gjson.Parse(candidate)
	if !parsed.IsObject() {
		return Payload{}, "", false
	}

	return Payload{
		Answer:      strings.TrimSpace(parsed.Get("answer").String()),
		Suggestions: suggestions(parsed.Get("suggestions")),
		Raw:         parsed,
	}, candidate, true
}

func suggestions(v gjson.Result) []string {
	if !v.IsArray() {
		return []string{}
	}
	out := make([]string, 0, MaxSuggestions)
	v.ForEach(func(_, item gjson.Result) bool {
		out = append(out, strings.TrimSpace(item.String()))
		return len(out) < MaxSuggestions
	})
	return out
}

// Answer returns the answer and suggestions for a model reply, falling back
// to the whole trimmed text and no suggestions when nothing structured is
// found.
func Answer(text string) (string, []string) {
	payload, _, ok := Extract(text)
	if !ok {
		return strings.TrimSpace(text), []string{}
	}
	return payload.Answer, payload.Suggestions
}
