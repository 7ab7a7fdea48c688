package utils

import "testing"

func TestPrettyTime(t *testing.T) {
	cases := []struct {
		sec  int
		want string
	}{
		{0, "0:00"},
		{59, "0:59"},
		{61, "1:01"},
		{3600, "1:00:00"},
		{3725, "1:02:05"},
	}
	for _, c := range cases {
		if got := PrettyTime(c.sec); got != c.want {
			t.Errorf("PrettyTime(%d) = %q, want %q", c.sec, got, c.want)
		}
	}
}

func TestToSeconds(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"0:00", 0},
		{"3:25", 205},
		{"1:02:05", 3725},
		{"42", 42},
		{"bogus", 0},
	}
	for _, c := range cases {
		if got := ToSeconds(c.in); got != c.want {
			t.Errorf("ToSeconds(%q) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	if got := FormatSize(512); got != "0.50 KB" {
		t.Errorf("FormatSize(512) = %q", got)
	}
	if got := FormatSize(3 << 20); got != "3.00 MB" {
		t.Errorf("FormatSize(3MB) = %q", got)
	}
	if got := FormatSize(2 << 30); got != "2.00 GB" {
		t.Errorf("FormatSize(2GB) = %q", got)
	}
}
