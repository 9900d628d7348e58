package util

import "testing"

func TestIn(t *testing.T) {
	ss := []string{"24H", "7D", "30D"}

	if !In(ss, "7D") {
		t.Errorf("In should find 7D")
	}
	if In(ss, "12H") {
		t.Errorf("In should not find 12H")
	}
	if In(nil, "x") {
		t.Errorf("In on nil slice should be false")
	}
}

func TestFormatCount(t *testing.T) {
	cases := []struct {
		n   int64
		exp string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1K"},
		{1500, "1.5K"},
		{999999, "1000K"},
		{1000000, "1M"},
		{2300000, "2.3M"},
	}
	for _, c := range cases {
		if got := FormatCount(c.n); got != c.exp {
			t.Errorf("FormatCount(%d) = %s, expected %s", c.n, got, c.exp)
		}
	}
}
