package tgui

import (
	"testing"
	"time"
)

func TestCloseTags(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "balanced", in: "<b>hi</b>", want: "<b>hi</b>"},
		{name: "missing bold", in: "<b>hi", want: "<b>hi</b>"},
		{name: "two missing", in: "<i>a<i>b", want: "<i>a<i>b</i></i>"},
		{name: "mixed order", in: "<blockquote><b>x", want: "<blockquote><b>x</b></blockquote>"},
		{name: "extra close untouched", in: "a</b>", want: "a</b>"},
		{name: "plain", in: "hello", want: "hello"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := CloseTags(tt.in); got != tt.want {
				t.Fatalf("CloseTags(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseData(t *testing.T) {
	t.Parallel()
	scope, action, payload, ok := ParseData(Data("settings", "hours", "5"))
	if !ok || scope != "settings" || action != "hours" || payload != "5" {
		t.Fatalf("unexpected parse: %q %q %q %v", scope, action, payload, ok)
	}
	if _, _, _, ok := ParseData("broken"); ok {
		t.Fatal("expected parse failure for missing action")
	}
	if _, _, p, ok := ParseData("menu:check"); !ok || p != "" {
		t.Fatalf("expected empty payload, got %q (ok=%v)", p, ok)
	}
}

func TestTruncRunes(t *testing.T) {
	t.Parallel()
	if got := TruncRunes("привет", 3); got != "при…" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("abc", 5); got != "abc" {
		t.Fatalf("TruncRunes = %q", got)
	}
	if got := TruncRunes("abc", 0); got != "" {
		t.Fatalf("TruncRunes = %q", got)
	}
}

func TestHoursMinutes(t *testing.T) {
	t.Parallel()
	if got := HoursMinutes(2*time.Hour + 5*time.Minute + 59*time.Second); got != "2h 5m" {
		t.Fatalf("HoursMinutes = %q", got)
	}
	if got := HoursMinutes(-time.Second); got != "0h 0m" {
		t.Fatalf("HoursMinutes(negative) = %q", got)
	}
}
