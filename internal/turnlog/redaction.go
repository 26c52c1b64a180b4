package turnlog

import (
	"context"
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9０-９][0-9０-９\-‐－−() ]{7,}[0-9０-９]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks email addresses, card numbers and phone numbers, including
// full-width digits that Japanese recognizers emit.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Cards first so that a 16-digit run is not reported as a phone number.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactingStore scrubs message content before handing it to the wrapped store.
type RedactingStore struct {
	Store
}

func NewRedactingStore(inner Store) *RedactingStore {
	return &RedactingStore{Store: inner}
}

func (s *RedactingStore) AppendTurnMessage(ctx context.Context, msg Message) error {
	if red, changed := RedactPII(msg.Content); changed {
		msg.Content = red
		msg.PIIRedacted = true
	}
	return s.Store.AppendTurnMessage(ctx, msg)
}
