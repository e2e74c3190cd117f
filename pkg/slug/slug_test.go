package slug

import "testing"

func TestFrom(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Solo Leveling", "solo-leveling"},
		{"vietnamese diacritics", "Truyện Tranh Đặc Biệt", "truyen-tranh-dac-biet"},
		{"punctuation collapses", "Hello, World!! (2024)", "hello-world-2024"},
		{"repeated separators", "a  --  b", "a-b"},
		{"leading and trailing junk", "  ~Title~  ", "title"},
		{"digits kept", "Chapter 12.5", "chapter-12-5"},
		{"empty", "", ""},
		{"only symbols", "!!!", ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := From(tc.in); got != tc.want {
				t.Fatalf("From(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
