package orl

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"with_milliseconds_and_utc", "2021-08-03 17:40:27.313 UTC", "2021-08-03T17:40:27.313Z"},
		{"with_milliseconds_no_utc", "2021-08-03 17:40:27.313", "2021-08-03T17:40:27.313Z"},
		{"no_milliseconds_no_utc", "2021-08-03 17:40:27", "2021-08-03T17:40:27Z"},
		{"no_milliseconds_and_utc", "2021-08-03 17:40:27 UTC", "2021-08-03T17:40:27Z"},
		{"low_no_milliseconds_and_utc", "2021-08-03 02:00:00 UTC", "2021-08-03T02:00:00Z"},
		{"low_with_milliseconds_and_utc", "2021-08-03 00:01:27.010 UTC", "2021-08-03T00:01:27.010Z"},
		{"earliest_possible_date", "1970-01-01 00:00:00.000 UTC", "1970-01-01T00:00:00Z"},
		{"leap_year_date", "2020-02-29 12:34:56 UTC", "2020-02-29T12:34:56Z"},
		{"max_milliseconds", "2021-08-03 17:40:27.999 UTC", "2021-08-03T17:40:27.999Z"},
		{"min_milliseconds", "2021-08-03 17:40:27.001 UTC", "2021-08-03T17:40:27.001Z"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			want, err := time.Parse(time.RFC3339Nano, tc.want)
			if err != nil {
				t.Fatalf("bad fixture %q: %v", tc.want, err)
			}

			got, err := ParseTimestamp(tc.in)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) error: %v", tc.in, err)
			}
			if !got.Equal(want) {
				t.Errorf("ParseTimestamp(%q) = %v, want %v", tc.in, got, want)
			}

			gotSlow, err := ParseTimestampSlow(tc.in)
			if err != nil {
				t.Fatalf("ParseTimestampSlow(%q) error: %v", tc.in, err)
			}
			if !gotSlow.Equal(want) {
				t.Errorf("ParseTimestampSlow(%q) = %v, want %v", tc.in, gotSlow, want)
			}
		})
	}
}

func TestParseTimestampInvalid(t *testing.T) {
	cases := []struct {
		name string
		in   string
	}{
		{"empty_string", ""},
		{"space_string", " "},
		{"missing_time", "2021-08-03"},
		{"missing_date", "17:40:27 UTC"},
		{"invalid_separator", "2021-08-03T17:40:27.313 UTC"},
		{"invalid_day", "2021-08-32 17:40:27 UTC"},
		{"invalid_month", "2021-13-03 17:40:27 UTC"},
		{"invalid_hour", "2021-08-03 24:40:27 UTC"},
		{"invalid_minute", "2021-08-03 17:60:27 UTC"},
		{"invalid_second_2", "2021-08-03 17:40:68 UTC"},
		{"non_leap_year_date", "2022-02-29 12:34:56 UTC"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := ParseTimestamp(tc.in); err == nil {
				t.Errorf("ParseTimestamp(%q) expected error, got nil", tc.in)
			}
			if _, err := ParseTimestampSlow(tc.in); err == nil {
				t.Errorf("ParseTimestampSlow(%q) expected error, got nil", tc.in)
			}
		})
	}
}
