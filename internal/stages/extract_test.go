package stages

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{
			name: "fenced block",
			text: "Here are the findings:\n```json\n{\"technical\": []}\n```\nDone.",
			want: `{"technical": []}`,
		},
		{
			name: "fenced block preferred over earlier object",
			text: "note {\"a\": 1}\n```json\n{\"b\": 2}\n```",
			want: `{"b": 2}`,
		},
		{
			name: "bare object in prose",
			text: `I found the following {"gaps": [{"gap": "x"}]} and nothing else.`,
			want: `{"gaps": [{"gap": "x"}]}`,
		},
		{
			name: "braces inside strings",
			text: `{"evidence": "uses {curly} braces and \"quotes\"", "n": 1} trailing }`,
			want: `{"evidence": "uses {curly} braces and \"quotes\"", "n": 1}`,
		},
		{
			name: "skips invalid candidate",
			text: `{not json} then {"ok": true}`,
			want: `{"ok": true}`,
		},
		{
			name: "invalid fence falls back to bare object",
			text: "```json\n{broken\n```\n{\"x\": 1}",
			want: `{"x": 1}`,
		},
		{name: "no braces", text: "I could not complete the research.", wantErr: true},
		{name: "unbalanced", text: `{"a": [1, 2`, wantErr: true},
		{name: "empty", text: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.text)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(got))
		})
	}
}

func FuzzExtractJSON(f *testing.F) {
	f.Add("```json\n{\"a\": 1}\n```")
	f.Add(`prefix {"b": "}"} suffix`)
	f.Add(`{{{`)
	f.Add(`"\"{"`)

	f.Fuzz(func(t *testing.T, text string) {
		raw, err := ExtractJSON(text)
		if err != nil {
			return
		}
		if !json.Valid(raw) {
			t.Fatalf("extracted invalid JSON %q from %q", raw, text)
		}
		if len(raw) == 0 || raw[0] != '{' {
			t.Fatalf("extracted non-object %q", raw)
		}
	})
}
