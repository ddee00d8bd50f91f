package updates

import "testing"

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.0.0", "1.0.0", 0},
		{"1.0.1", "1.0.0", 1},
		{"1.0", "1.0.0", -1},
		{"1.10", "1.9", 1},
		{"2.0", "10.0", -1},
		{"1.0rc1", "1.0", -1},
		{"1.0-beta", "1.0-alpha", 1},
		{"1.0a1", "1.0b1", -1},
		{"1.0-dev", "1.0-alpha", -1},
		{"1.0RC1", "1.0rc1", 0},
		{"1.0", "1.0pl1", -1},
		{"1.0.1", "1.0pl1", -1},
		{"1.0_1", "1.0.1", 0},
		{"1.0+1", "1.0-1", 0},
		{"01.2", "1.2", 0},
		{"1.2.3", "", 1},
		{"", "1.2.3", -1},
		{"", "", 0},
		{"99999999999999999999.0", "99999999999999999998.0", 1},
		{"1.0-foo", "1.0-dev", -1},
	}
	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
		if got := CompareVersions(tt.b, tt.a); got != -tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.b, tt.a, got, -tt.want)
		}
	}
}
