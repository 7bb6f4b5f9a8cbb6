package delegation

import "testing"

func TestMatch(t *testing.T) {
	cases := []struct {
		pattern string
		command string
		want    bool
	}{
		{"/notion set pg_* Status=*", "/notion set pg_999 Status=Done", true},
		{"/notion set pg_* Status=*", "/notion set pg_1 Status=In Progress", true},
		{"/notion set pg_* Status=*", "/notion set row_1 Status=Done", false},
		{"/notion set pg_* Status=*", "/notion set pg_1 Owner=bob", false},
		{"*", "anything at all", true},
		{"*", "", true},
		{"", "", true},
		{"", "x", false},
		{"/email send *", "/email send weekly digest", true},
		{"/email send *", "/email send", false},
		{"exact command", "exact command", true},
		{"exact command", "exact commands", false},
		{"a*b*c", "axxbyyc", true},
		{"a*b*c", "abc", true},
		{"a*b*c", "axxbyy", false},
		{"*suffix", "some suffix", true},
		{"prefix*", "prefix and more", true},
	}
	for _, tc := range cases {
		if got := Match(tc.pattern, tc.command); got != tc.want {
			t.Errorf("Match(%q, %q) = %v, want %v", tc.pattern, tc.command, got, tc.want)
		}
	}
}
