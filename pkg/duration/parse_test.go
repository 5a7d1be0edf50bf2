package duration

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    time.Duration
		wantErr bool
	}{
		{name: "1 day", input: "1d", want: Day},
		{name: "2 days", input: "2d", want: 2 * Day},
		{name: "1 week", input: "1w", want: Week},
		{name: "2 weeks", input: "2w", want: 2 * Week},
		{name: "1 month", input: "1m", want: Month},
		{name: "6 months", input: "6m", want: 6 * Month},
		{name: "1 year", input: "1y", want: Year},
		{name: "2 years", input: "2y", want: 2 * Year},

		// Large values
		{name: "10 years", input: "10y", want: 10 * Year},
		{name: "52 weeks", input: "52w", want: 52 * Week},
		{name: "365 days", input: "365d", want: 365 * Day},

		// Zero is a valid quantity
		{name: "zero days", input: "0d", want: 0},

		// Whitespace should be trimmed
		{name: "whitespace around", input: "  1d  ", want: Day},

		// Error cases
		{name: "empty string", input: "", wantErr: true},
		{name: "no unit", input: "30", wantErr: true},
		{name: "no number", input: "d", wantErr: true},
		{name: "unknown unit", input: "5h", wantErr: true},
		{name: "uppercase unit", input: "1D", wantErr: true},
		{name: "negative value", input: "-1d", wantErr: true},
		{name: "compound value", input: "1y6m", wantErr: true},
		{name: "garbage", input: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Parse(%q) expected error, got %v", tt.input, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
