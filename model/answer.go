package model

import "strings"

// NoContextAnswer is returned when retrieval finds nothing to answer from.
const NoContextAnswer = "I'm sorry, but I couldn't find any relevant information in my knowledge base to answer that question. Please try rephrasing your query or adding more sources."

// maxContextChars caps how much of each candidate goes into the prompt.
const maxContextChars = 800

// Answer is the result of the query path.
type Answer struct {
	Query     string       `json:"query"`
	Text      string       `json:"answer"`
	FromCache bool         `json:"from_cache"`
	Sources   []*Candidate `json:"sources"`
}

// BuildPrompt joins the candidate texts into the context of an answer prompt.
func BuildPrompt(query string, candidates []*Candidate) string {
	parts := make([]string, 0, len(candidates))
	for _, c := range candidates {
		text := c.Text
		if r := []rune(text); len(r) > maxContextChars {
			text = string(r[:maxContextChars])
		}
		parts = append(parts, text)
	}
	return "Use the following context to answer the question:\n" + strings.Join(parts, "\n\n") + "\n\nQuestion: " + query
}
