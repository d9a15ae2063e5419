package ratelimit

import (
	"net/http"
	"testing"
	"time"
)

func TestState_NextAllowed(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		state State
		want  time.Time
	}{
		{
			name:  "first call waits a full interval",
			state: State{Interval: 4 * time.Second},
			want:  now.Add(4 * time.Second),
		},
		{
			name:  "interval counted from the last call",
			state: State{Interval: 4 * time.Second, LastCall: now.Add(-1 * time.Second)},
			want:  now.Add(3 * time.Second),
		},
		{
			name:  "last call long ago",
			state: State{Interval: 4 * time.Second, LastCall: now.Add(-time.Minute)},
			want:  now.Add(-56 * time.Second),
		},
		{
			name: "deferral wins when later",
			state: State{
				Interval:      4 * time.Second,
				LastCall:      now.Add(-1 * time.Second),
				DeferredUntil: now.Add(30 * time.Second),
			},
			want: now.Add(30 * time.Second),
		},
		{
			name: "expired deferral is ignored",
			state: State{
				Interval:      4 * time.Second,
				LastCall:      now.Add(-1 * time.Second),
				DeferredUntil: now.Add(-time.Minute),
			},
			want: now.Add(3 * time.Second),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.NextAllowed(now); !got.Equal(tt.want) {
				t.Errorf("NextAllowed() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestState_TimeUntilNext(t *testing.T) {
	now := time.Now()
	s := State{Interval: time.Second, LastCall: now.Add(-time.Hour)}
	if got := s.TimeUntilNext(now); got != 0 {
		t.Errorf("TimeUntilNext() = %v, want 0", got)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		header string
		want   time.Duration
		wantOK bool
	}{
		{"absent", "", 0, false},
		{"seconds", "30", 30 * time.Second, true},
		{"negative seconds", "-5", 0, false},
		{"http date", now.Add(2 * time.Minute).Format(http.TimeFormat), 2 * time.Minute, true},
		{"date in the past", now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"garbage", "soon", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.header != "" {
				header.Set("Retry-After", tt.header)
			}
			got, ok := ParseRetryAfter(header, now)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("ParseRetryAfter(%q) = %v, %v; want %v, %v", tt.header, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
