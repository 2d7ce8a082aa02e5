package relay

import (
	"testing"
	"time"
)

func TestBackoff_Sequence(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second)

	want := []time.Duration{1, 2, 4, 8, 16, 32, 60, 60, 60}
	for i, w := range want {
		if got := b.Next(); got != w*time.Second {
			t.Errorf("Next() #%d = %v, want %v", i+1, got, w*time.Second)
		}
	}
	if b.Attempt() != len(want) {
		t.Errorf("Attempt() = %d, want %d", b.Attempt(), len(want))
	}

	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("Next() after Reset = %v, want 1s", got)
	}
}

func TestNewBackoff_Defaults(t *testing.T) {
	tests := []struct {
		name         string
		initial, max time.Duration
		wantFirst    time.Duration
	}{
		{"zero values", 0, 0, time.Second},
		{"max below initial", 5 * time.Second, time.Second, 5 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBackoff(tt.initial, tt.max)
			if got := b.Next(); got != tt.wantFirst {
				t.Errorf("Next() = %v, want %v", got, tt.wantFirst)
			}
		})
	}
}
