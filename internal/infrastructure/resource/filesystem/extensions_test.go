package filesystem

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseExtensions(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty means all", raw: "", want: nil},
		{name: "blank means all", raw: "  ", want: nil},
		{name: "defaults", raw: "txt,pdf,doc,docx,md,html", want: []string{"txt", "pdf", "doc", "docx", "md", "html"}},
		{name: "trim dot and case", raw: " .TXT , Pdf,.md ", want: []string{"txt", "pdf", "md"}},
		{name: "dedup keeps first", raw: "md,txt,.MD,TXT,pdf", want: []string{"md", "txt", "pdf"}},
		{name: "empty items skipped", raw: ",,txt,,", want: []string{"txt"}},
		{name: "only one dot stripped", raw: "..txt", want: []string{".txt"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := ParseExtensions(tc.raw)
			if !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("ParseExtensions(%q) = %#v, want %#v", tc.raw, got, tc.want)
			}
		})
	}
}

func TestParseExtensionsIsIdempotent(t *testing.T) {
	inputs := []string{"TXT,.pdf, md ,txt", ".Html,HTML,htm", "", "a,b,c,A"}
	for _, raw := range inputs {
		once := ParseExtensions(raw)
		twice := ParseExtensions(strings.Join(once, ","))
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("not idempotent for %q: %v vs %v", raw, once, twice)
		}
	}
}

func TestExtensionOf(t *testing.T) {
	cases := map[string]string{
		"/a/b/Report.PDF":   "pdf",
		"notes.txt":         "txt",
		"archive.tar.gz":    "gz",
		"/dir.d/Makefile":   "",
		".bashrc":           "bashrc",
		"/x/y/trailingdot.": "",
	}
	for in, want := range cases {
		if got := ExtensionOf(in); got != want {
			t.Fatalf("ExtensionOf(%q) = %q, want %q", in, got, want)
		}
	}
}
