package util

import (
	"strconv"
	"testing"
	"time"
)

func TestParseTimeRFC3339(t *testing.T) {
	s := "2024-10-10T10:10:10Z"
	got, ok := ParseTime(s)
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UTC().Format(time.RFC3339) != s {
		t.Fatalf("unexpected time %v", got)
	}
}

func TestParseTimeUnixMillis(t *testing.T) {
	ms := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC).UnixMilli()
	got, ok := ParseTime(strconv.FormatInt(ms, 10))
	if !ok {
		t.Fatalf("expected ok")
	}
	if got.UnixMilli() != ms {
		t.Fatalf("unexpected millis %v", got.UnixMilli())
	}
}

func TestParseTimeDefault(t *testing.T) {
	def := time.Date(2024, 10, 10, 10, 10, 10, 0, time.UTC)
	got := ParseTimeDefault("", def)
	if !got.Equal(def) {
		t.Fatalf("expected default")
	}
}

func TestParseInt64Default(t *testing.T) {
	if got := ParseInt64Default("42", 7); got != 42 {
		t.Fatalf("expected 42, got %d", got)
	}
	if got := ParseInt64Default("x", 7); got != 7 {
		t.Fatalf("expected default, got %d", got)
	}
}

func TestLoadLocationFallsBackToUTC(t *testing.T) {
	if loc := LoadLocation("Not/AZone"); loc != time.UTC {
		t.Fatalf("expected UTC, got %v", loc)
	}
}
