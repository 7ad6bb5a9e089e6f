package model

import "testing"

func TestSplitMarker(t *testing.T) {
	tests := []struct {
		name        string
		description string
		wantID      int64
		wantOK      bool
	}{
		{"plain marker", "dinner, split with #1042", 1042, true},
		{"case insensitive", "Split With #7", 7, true},
		{"extra spacing", "split  with  #33 card portion", 33, true},
		{"no marker", "dinner for two", 0, false},
		{"missing id", "split with #", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Receipt{Description: tt.description}
			id, ok := r.SplitMarker()
			if ok != tt.wantOK || id != tt.wantID {
				t.Errorf("SplitMarker() = (%d, %v), want (%d, %v)", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}
