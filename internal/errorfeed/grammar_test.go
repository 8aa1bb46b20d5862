package errorfeed

import (
	"testing"
	"time"

	"github.com/therealutkarshpriyadarshi/nodewatch/pkg/types"
)

func TestGethGrammarParse(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   Candidate
		wantOK bool
	}{
		{
			name: "error",
			line: "ERROR[10-19|12:34:56.789] Snapshot extension registration failed peer=abc",
			want: Candidate{
				Timestamp: "10-19|12:34:56.789",
				Message:   "Snapshot extension registration failed peer=abc",
				Level:     types.LevelError,
			},
			wantOK: true,
		},
		{
			name: "warn is capped",
			line: "WARN [10-19|12:34:56.789] Served eth_call reqid=1 duration=5s",
			want: Candidate{
				Timestamp: "10-19|12:34:56.789",
				Message:   "Served eth_call reqid=1 duration=5s",
				Level:     types.LevelWarn,
				Capped:    true,
			},
			wantOK: true,
		},
		{
			name:   "info",
			line:   "INFO [10-19|12:34:56.789] Imported new chain segment",
			wantOK: false,
		},
		{
			name:   "error word without bracket form",
			line:   "INFO something mentioned ERROR in passing",
			wantOK: false,
		},
		{
			name:   "error marker is not retried as warn",
			line:   "ERROR no bracket here but WARN [10-19|12:00:00.000] text",
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := GethGrammar{}.Parse(tt.line, testNow)
			if ok != tt.wantOK {
				t.Fatalf("Parse ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestGethGrammarParseTime(t *testing.T) {
	g := GethGrammar{}

	got, ok := g.ParseTime("10-19|11:30:00.250", testNow)
	want := time.Date(2024, 10, 19, 11, 30, 0, 250_000_000, time.UTC)
	if !ok || !got.Equal(want) {
		t.Errorf("ParseTime = %v, %v, want %v", got, ok, want)
	}

	// A December timestamp read in January belongs to the previous year
	jan := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	got, ok = g.ParseTime("12-31|23:59:59.000", jan)
	if !ok || got.Year() != 2024 {
		t.Errorf("ParseTime across new year = %v, %v, want year 2024", got, ok)
	}

	// Leap day survives rebuilding the date in the current year
	leap := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	got, ok = g.ParseTime("02-29|10:00:00.000", leap)
	if !ok || got.Month() != time.February || got.Day() != 29 {
		t.Errorf("ParseTime leap day = %v, %v", got, ok)
	}

	if _, ok := g.ParseTime("garbage", testNow); ok {
		t.Error("ParseTime accepted garbage")
	}
}

func TestPrysmGrammarParse(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   Candidate
		wantOK bool
	}{
		{
			name: "quoted message",
			line: `time="2024-10-19 11:00:00" level=error msg="Could not connect to peer" prefix=p2p`,
			want: Candidate{
				Timestamp: "2024-10-19 11:00:00",
				Message:   "Could not connect to peer",
				Level:     types.LevelError,
				Capped:    true,
			},
			wantOK: true,
		},
		{
			name: "bare message without time",
			line: `level=error msg=timeout prefix=sync`,
			want: Candidate{
				Timestamp: testNow.Format(time.RFC3339),
				Message:   "timeout",
				Level:     types.LevelError,
				Capped:    true,
			},
			wantOK: true,
		},
		{
			name: "json error level",
			line: `{"level":"error","msg":"x"} msg="json shaped"`,
			want: Candidate{
				Timestamp: testNow.Format(time.RFC3339),
				Message:   "json shaped",
				Level:     types.LevelError,
				Capped:    true,
			},
			wantOK: true,
		},
		{
			name:   "info",
			line:   `time="2024-10-19 11:00:00" level=info msg="Synced new block"`,
			wantOK: false,
		},
		{
			name:   "error without message",
			line:   `time="2024-10-19 11:00:00" level=error`,
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := PrysmGrammar{}.Parse(tt.line, testNow)
			if ok != tt.wantOK {
				t.Fatalf("Parse ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Errorf("Parse = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []struct {
		in     string
		wantOK bool
	}{
		{"2024-10-19T11:00:00Z", true},
		{"2024-10-19T11:00:00.123456+02:00", true},
		{"2024-10-19 11:00:00", true},
		{"2024-10-19 11:00:00.5", true},
		{"2024/10/19 11:00:00", true},
		{"yesterday", false},
		{"", false},
	}

	for _, tt := range tests {
		if _, ok := ParseTimestamp(tt.in, time.UTC); ok != tt.wantOK {
			t.Errorf("ParseTimestamp(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
		}
	}
}
