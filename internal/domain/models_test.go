package domain

import "testing"

func TestOrderVariant(t *testing.T) {
	cases := []struct {
		size, color, want string
	}{
		{"M", "Rouge", "M/Rouge"},
		{"M", "", "M/"},
		{"", "Rouge", "/Rouge"},
		{"", "", ""},
	}
	for _, c := range cases {
		o := Order{Size: c.size, Color: c.color}
		if got := o.Variant(); got != c.want {
			t.Errorf("Variant(%q, %q) = %q, want %q", c.size, c.color, got, c.want)
		}
	}
}
