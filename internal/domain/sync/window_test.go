package sync

import (
	"testing"
	"time"
)

func TestSelectWindow(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	cursor := time.Date(2025, 6, 10, 8, 0, 0, 0, time.UTC)

	tests := []struct {
		name         string
		fullHistory  bool
		cursor       *time.Time
		storedCount  int
		wantKind     string
		wantFallback bool
		wantFrom     *time.Time
	}{
		{
			name:        "explicit full history wins over cursor",
			fullHistory: true,
			cursor:      &cursor,
			wantKind:    "full_history",
		},
		{
			name:     "cursor present gives incremental window",
			cursor:   &cursor,
			wantKind: "incremental",
		},
		{
			name:        "no cursor and empty store gives bounded initial backfill",
			storedCount: 0,
			wantKind:    "range",
			wantFrom:    timePtr(now.Add(-365 * 24 * time.Hour)),
		},
		{
			name:         "no cursor with existing transactions falls back to short range",
			storedCount:  42,
			wantKind:     "range",
			wantFallback: true,
			wantFrom:     timePtr(now.Add(-30 * 24 * time.Hour)),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			window, fallback := SelectWindow(tt.fullHistory, tt.cursor, tt.storedCount, now)

			if window.Kind() != tt.wantKind {
				t.Errorf("Kind() = %q, want %q", window.Kind(), tt.wantKind)
			}
			if fallback != tt.wantFallback {
				t.Errorf("fallback = %v, want %v", fallback, tt.wantFallback)
			}
			if tt.wantKind == "incremental" {
				if window.Since == nil || !window.Since.Equal(cursor) {
					t.Errorf("Since = %v, want %v", window.Since, cursor)
				}
			}
			if tt.wantFrom != nil {
				if window.From == nil || !window.From.Equal(*tt.wantFrom) {
					t.Errorf("From = %v, want %v", window.From, *tt.wantFrom)
				}
				if window.To == nil || !window.To.Equal(now) {
					t.Errorf("To = %v, want %v", window.To, now)
				}
			}
		})
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}
