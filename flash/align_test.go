package flash

import "testing"

func TestAlignUp(t *testing.T) {
	tests := []struct {
		value, unit, want uint32
	}{
		{13, 4, 16},
		{16, 4, 16},
		{1, 4, 4},
		{0, 4, 0},
		{5, 0, 5},
		{4097, 4096, 8192},
		{3, 1, 3},
	}
	for _, tt := range tests {
		if got := AlignUp(tt.value, tt.unit); got != tt.want {
			t.Fatalf("AlignUp(%d, %d) = %d, want %d", tt.value, tt.unit, got, tt.want)
		}
	}
}

func TestAlignUpNeverShrinks(t *testing.T) {
	for v := uint32(1); v < 64; v++ {
		got := AlignUp(v, WordSize)
		if got < v || got%WordSize != 0 || got-v >= WordSize {
			t.Fatalf("AlignUp(%d, %d) = %d", v, WordSize, got)
		}
	}
}
