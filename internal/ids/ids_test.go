package ids

import "testing"

func TestNew(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() string
		prefix string
	}{
		{name: "delivery", gen: NewDelivery, prefix: PrefixDelivery},
		{name: "event", gen: NewEvent, prefix: PrefixEvent},
		{name: "destination", gen: NewDestination, prefix: PrefixDestination},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id := tt.gen()
			if !HasPrefix(id, tt.prefix) {
				t.Errorf("%s id = %q, want prefix %q", tt.name, id, tt.prefix+"_")
			}
		})
	}
}

func TestNew_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewDelivery()
		if seen[id] {
			t.Fatalf("NewDelivery() produced duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNew_InvalidPrefixPanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("New() with invalid prefix did not panic")
		}
	}()
	New("Not-Valid")
}

func TestHasPrefix(t *testing.T) {
	tests := []struct {
		id     string
		prefix string
		want   bool
	}{
		{"dlv_01h455vb4pex5vsknk084sn02q", "dlv", true},
		{"evt_01h455vb4pex5vsknk084sn02q", "dlv", false},
		{"dlv_", "dlv", false},
		{"dlv", "dlv", false},
		{"", "dlv", false},
	}

	for _, tt := range tests {
		if got := HasPrefix(tt.id, tt.prefix); got != tt.want {
			t.Errorf("HasPrefix(%q, %q) = %v, want %v", tt.id, tt.prefix, got, tt.want)
		}
	}
}
