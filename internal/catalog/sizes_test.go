package catalog

import "testing"

func TestNormalizeSize(t *testing.T) {
	cases := []struct {
		raw    string
		want   string
		wantOK bool
	}{
		{"M", "M", true},
		{" XL ", "XL", true},
		{"8-10", "8-10", true},
		{"FZ", "FZ", true},
		{"", "", true},
		{"m", "", false},
		{"Slim Fit Cotton Tee", "", false},
		{"[object Object]", "", false},
		{"null", "", false},
	}
	for _, tc := range cases {
		got, ok := NormalizeSize(tc.raw)
		if got != tc.want || ok != tc.wantOK {
			t.Fatalf("NormalizeSize(%q) = %q,%v want %q,%v", tc.raw, got, ok, tc.want, tc.wantOK)
		}
	}
}

func TestSizeLabel(t *testing.T) {
	if SizeLabel("FZ") != "Free Size" || SizeLabel("0-2") != "0-2 Years" || SizeLabel("nope") != "" {
		t.Fatal("unexpected labels")
	}
}
