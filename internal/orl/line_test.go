package orl

import "testing"

func TestParseMessageLine(t *testing.T) {
	cases := []struct {
		name     string
		in       string
		username string
		text     string
	}{
		{"basic", "[2021-08-03 17:40:27.313 UTC] someuser: hello world", "someuser", "hello world"},
		{"no_millis", "[2021-08-03 17:40:27] someuser: hello world", "someuser", "hello world"},
		{"extra_inner_whitespace", "[ 2021-08-03 17:40:27 UTC ]   someuser  :   hello world  ", "someuser", "hello world"},
		{"multi_word_username", "[2021-08-03 17:40:27 UTC] test cat: hello world", "test cat", "hello world"},
		{"empty_text", "[2021-08-03 17:40:27 UTC] someuser:", "someuser", ""},
		{"no_space_before_username", "[2021-08-03 17:40:27 UTC]someuser: hi", "someuser", "hi"},
		{"newline_in_text", "[2021-08-03 17:40:27 UTC] someuser: hello\nworld", "someuser", "hello world"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, err := ParseMessageLine(tc.in)
			if err != nil {
				t.Fatalf("ParseMessageLine(%q) error: %v", tc.in, err)
			}
			if rec.Username != tc.username {
				t.Errorf("username = %q, want %q", rec.Username, tc.username)
			}
			if rec.Text != tc.text {
				t.Errorf("text = %q, want %q", rec.Text, tc.text)
			}
		})
	}
}

func TestParseMessageLineInvalid(t *testing.T) {
	cases := []string{
		"",
		"no closing bracket here",
		"[2021-08-03 17:40:27 UTC] no colon at all",
		"[not a timestamp] someuser: hi",
	}
	for _, in := range cases {
		if _, err := ParseMessageLine(in); err == nil {
			t.Errorf("ParseMessageLine(%q) expected error, got nil", in)
		}
	}
}
