package docid

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncode(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"alphanumeric untouched", "abcXYZ019", "abcXYZ019"},
		{"url", "https://example.com/a/b?q=1", "https---example-com-a-b-q-1"},
		{"whitespace kept", "a b\tc\nd\re\ff\vg", "a b\tc\nd\re\ff\vg"},
		{"hyphen kept", "already-encoded", "already-encoded"},
		{"multibyte rune is one dash", "café", "caf-"},
		{"emoji is one dash", "a😀b", "a-b"},
		{"invalid utf8 bytes", "a\xff\xfeb", "a--b"},
		{"underscore replaced", "snake_case", "snake-case"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Encode(tc.input))
		})
	}
}

func TestEncode_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"https://www.example.org/news/2024/06/article.html",
		"--::--",
		"tab\tand space",
		"üñíçødé",
		"a\xffb",
		"sentinel -",
	}

	for _, in := range inputs {
		once := Encode(in)
		assert.Equal(t, once, Encode(once), "Encode should be idempotent for %q", in)
	}
}

func TestEncode_OutputAlphabet(t *testing.T) {
	out := Encode("https://ex.com/ä?x=1&y=[2]#frag \t")
	for _, r := range out {
		assert.True(t, Keeps(r) || r == Replacement, "unexpected rune %q in output", r)
	}
}
