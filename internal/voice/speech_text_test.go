package voice

import "testing"

func TestSpeakableText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "drops emoji and markdown markers",
			in:   "Sure \U0001F60A **let's** do this / now.",
			want: "Sure let's do this now.",
		},
		{
			name: "keeps markdown link label and removes url",
			in:   "Read [the docs](https://example.com/docs) first.",
			want: "Read the docs first.",
		},
		{
			name: "removes code blocks and inline code",
			in:   "```bash\nnpm run dev\n```\nThen run `make test` ✅",
			want: "Then run",
		},
		{
			name: "normalizes odd punctuation spacing",
			in:   "Hello***world///again",
			want: "Hello world again",
		},
		{
			name: "keeps japanese punctuation and drops list markup",
			in:   "# ご案内\n1. 受付は9時からです。\n- 「予約」も可能です！",
			want: "ご案内 受付は9時からです。 「予約」も可能です！",
		},
		{
			name: "drops keycap and joiner sequences",
			in:   "Press 1\ufe0f\u20e3 to confirm \U0001F44D\u200d",
			want: "Press 1 to confirm",
		},
		{
			name: "fallback apology is unchanged",
			in:   "申し訳ありません。応答の生成中にエラーが発生しました。",
			want: "申し訳ありません。応答の生成中にエラーが発生しました。",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := SpeakableText(tc.in)
			if got != tc.want {
				t.Fatalf("SpeakableText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
