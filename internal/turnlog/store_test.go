package turnlog

import (
	"context"
	"strings"
	"testing"
)

func TestInMemoryStoreAppendAndRead(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	for _, m := range []Message{
		{CallID: "call-1", Role: RoleUser, Content: "one"},
		{CallID: "call-1", Role: RoleAI, Content: "two"},
		{CallID: "call-2", Role: RoleUser, Content: "other"},
		{CallID: "call-1", Role: RoleUser, Content: "three"},
	} {
		if err := s.AppendTurnMessage(ctx, m); err != nil {
			t.Fatalf("AppendTurnMessage() error = %v", err)
		}
	}

	all, err := s.Messages(ctx, "call-1", 0)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}
	if all[0].Content != "one" || all[2].Content != "three" {
		t.Fatalf("messages out of order: %+v", all)
	}
	if all[0].ID == "" || all[0].CreatedAt.IsZero() {
		t.Fatalf("ID/CreatedAt not defaulted: %+v", all[0])
	}

	last, _ := s.Messages(ctx, "call-1", 2)
	if len(last) != 2 || last[0].Content != "two" {
		t.Fatalf("Messages(limit=2) = %+v", last)
	}

	none, _ := s.Messages(ctx, "missing", 0)
	if len(none) != 0 {
		t.Fatalf("Messages(missing) = %+v", none)
	}
}

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}

	out, changed = RedactPII("電話番号は０９０−１２３４−５６７８です")
	if !changed || !strings.Contains(out, "[REDACTED_PHONE]") {
		t.Fatalf("full-width phone not redacted: %q", out)
	}

	if _, changed := RedactPII("ご予約は明日の午後です"); changed {
		t.Fatalf("plain text reported as changed")
	}
}

func TestRedactingStoreMarksMessages(t *testing.T) {
	inner := NewInMemoryStore()
	s := NewStore(nil, true)
	if _, ok := s.(*RedactingStore); !ok {
		t.Fatalf("NewStore(nil, true) = %T, want *RedactingStore", s)
	}
	s = NewRedactingStore(inner)

	ctx := context.Background()
	if err := s.AppendTurnMessage(ctx, Message{CallID: "c", Role: RoleUser, Content: "mail a@b.co please"}); err != nil {
		t.Fatalf("AppendTurnMessage() error = %v", err)
	}
	if err := s.AppendTurnMessage(ctx, Message{CallID: "c", Role: RoleAI, Content: "はい"}); err != nil {
		t.Fatalf("AppendTurnMessage() error = %v", err)
	}
	got, _ := inner.Messages(ctx, "c", 0)
	if !got[0].PIIRedacted || strings.Contains(got[0].Content, "a@b.co") {
		t.Fatalf("first message not redacted: %+v", got[0])
	}
	if got[1].PIIRedacted {
		t.Fatalf("second message wrongly marked: %+v", got[1])
	}
}
