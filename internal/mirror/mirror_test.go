package mirror

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func timePtr(t time.Time) *time.Time { return &t }
func intPtr(v int) *int              { return &v }
func floatPtr(v float64) *float64    { return &v }

func hoursAgo(h float64) *time.Time {
	return timePtr(testNow.Add(-time.Duration(h * float64(time.Hour))))
}

// activeMirror returns a mirror that passes the default filters.
func activeMirror(url string) Mirror {
	return Mirror{
		URL:           url,
		Protocol:      ProtocolHTTPS,
		CompletionPct: 1.0,
		Active:        true,
		Country:       "Germany",
		CountryCode:   "DE",
	}
}

const sampleStatusJSON = `{
  "cutoff": 86400,
  "last_check": "2024-05-01T11:50:00Z",
  "num_checks": 24,
  "check_frequency": 3600,
  "urls": [
    {
      "url": "https://mirror.example.de/archlinux/",
      "protocol": "https",
      "last_sync": "2024-05-01T10:00:00Z",
      "completion_pct": 1.0,
      "delay": 3600,
      "duration_avg": 0.25,
      "duration_stddev": 0.1,
      "score": 1.5,
      "active": true,
      "country": "Germany",
      "country_code": "DE",
      "isos": true,
      "ipv4": true,
      "ipv6": false,
      "details": "https://archlinux.org/mirrors/example.de/1/"
    },
    {
      "url": "rsync://mirror.example.fr/archlinux/",
      "protocol": "rsync",
      "last_sync": null,
      "completion_pct": 0.0,
      "delay": null,
      "duration_avg": null,
      "duration_stddev": null,
      "score": null,
      "active": false,
      "country": "France",
      "country_code": "FR",
      "isos": false,
      "ipv4": true,
      "ipv6": true,
      "details": ""
    }
  ],
  "version": 3
}`

func TestSnapshotDecode(t *testing.T) {
	var s Snapshot
	if err := json.Unmarshal([]byte(sampleStatusJSON), &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if err := s.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	if s.Cutoff != 86400 || s.NumChecks != 24 || s.CheckFrequency != 3600 || s.Version != 3 {
		t.Errorf("unexpected metadata: %+v", s)
	}
	if len(s.Mirrors) != 2 {
		t.Fatalf("expected 2 mirrors, got %d", len(s.Mirrors))
	}

	de := s.Mirrors[0]
	if de.LastSync == nil || !de.LastSync.Equal(time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("unexpected last_sync: %v", de.LastSync)
	}
	if de.Delay == nil || *de.Delay != 3600 {
		t.Errorf("unexpected delay: %v", de.Delay)
	}
	if de.Score == nil || *de.Score != 1.5 {
		t.Errorf("unexpected score: %v", de.Score)
	}

	fr := s.Mirrors[1]
	if fr.LastSync != nil || fr.Delay != nil || fr.Score != nil || fr.DurationAvg != nil {
		t.Errorf("expected missing optional fields to be nil: %+v", fr)
	}
	if fr.Protocol != ProtocolRsync {
		t.Errorf("expected rsync, got %q", fr.Protocol)
	}
}

func TestSnapshotValidate(t *testing.T) {
	lastCheck := testNow
	tests := []struct {
		name    string
		mirror  Mirror
		wantErr bool
	}{
		{"valid", activeMirror("https://a/"), false},
		{"completion above one", Mirror{URL: "x", Protocol: ProtocolHTTP, CompletionPct: 1.01}, true},
		{"completion below zero", Mirror{URL: "x", Protocol: ProtocolHTTP, CompletionPct: -0.1}, true},
		{"unknown protocol", Mirror{URL: "x", Protocol: "gopher", CompletionPct: 1}, true},
		{"sync after check", Mirror{URL: "x", Protocol: ProtocolHTTP, LastSync: timePtr(lastCheck.Add(time.Minute))}, true},
		{"sync at check", Mirror{URL: "x", Protocol: ProtocolHTTP, LastSync: timePtr(lastCheck)}, false},
		{"negative delay", Mirror{URL: "x", Protocol: ProtocolHTTP, Delay: intPtr(-1)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Snapshot{LastCheck: lastCheck, Mirrors: []Mirror{tt.mirror}}
			err := s.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseProtocols(t *testing.T) {
	got, err := ParseProtocols([]string{"https,HTTP", "https", " ftp "})
	if err != nil {
		t.Fatalf("ParseProtocols: %v", err)
	}
	want := []Protocol{ProtocolHTTPS, ProtocolHTTP, ProtocolFTP}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := ParseProtocols([]string{"https,gopher"}); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestParseSortKey(t *testing.T) {
	for _, s := range []string{"", "age", "RATE", "country", "score", "delay"} {
		if _, err := ParseSortKey(s); err != nil {
			t.Errorf("ParseSortKey(%q): %v", s, err)
		}
	}
	if _, err := ParseSortKey("speed"); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestURLs(t *testing.T) {
	got := URLs([]Mirror{activeMirror("https://a/"), activeMirror("https://b/")})
	if len(got) != 2 || got[0] != "https://a/" || got[1] != "https://b/" {
		t.Errorf("unexpected urls: %v", got)
	}
}
