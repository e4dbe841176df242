package prompts

import "strings"

// DefaultCaption is the prompt used when a caller does not supply one.
const DefaultCaption = "a description of this image:"

// OrDefault returns prompt, or fallback when prompt is empty. A prompt of
// only whitespace is kept as given. An empty fallback falls through to
// DefaultCaption.
func OrDefault(prompt, fallback string) string {
	if prompt != "" {
		return prompt
	}
	if fallback != "" {
		return fallback
	}
	return DefaultCaption
}

// StripEcho removes prompt from the start of text when the model restated
// it verbatim, and trims what remains.
func StripEcho(text, prompt string) string {
	if prompt != "" && strings.HasPrefix(text, prompt) {
		return strings.TrimSpace(text[len(prompt):])
	}
	return text
}
