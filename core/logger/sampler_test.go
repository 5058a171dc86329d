package logger

import (
	"bytes"
	"io"
	"testing"
)

func TestRatioSamplerWindow(t *testing.T) {
	s := newRatioSampler(2, 5)
	passed := 0
	for i := 0; i < 50; i++ {
		if s.Allow() {
			passed++
		}
	}
	if passed != 20 {
		t.Fatalf("passed = %d, want 20", passed)
	}

	s.Set(0, 0)
	for i := 0; i < 5; i++ {
		if !s.Allow() {
			t.Fatal("disabled sampler must pass everything")
		}
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"1/50":  {1, 50},
		" 3/4 ": {3, 4},
		"10":    {1, 10},
		"off":   {0, 0},
		"0":     {0, 0},
		"x/y":   {0, 0},
		"-2":    {0, 0},
	}
	for spec, want := range cases {
		num, den := parseRatioSpec(spec)
		if num != want[0] || den != want[1] {
			t.Errorf("parseRatioSpec(%q) = %d/%d, want %d/%d", spec, num, den, want[0], want[1])
		}
	}
}

func TestBatchWriterFlushAndClose(t *testing.T) {
	a, b := &bytes.Buffer{}, &bytes.Buffer{}
	w := newBatchWriter([]io.Writer{a, nil, b}, 1<<20)
	if err := w.Write([]byte("one\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Flush(); err != nil {
		t.Fatal(err)
	}
	if a.String() != "one\n" || b.String() != "one\n" {
		t.Fatalf("after flush: %q %q", a.String(), b.String())
	}
	_ = w.Write([]byte("two\n"))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if a.String() != "one\ntwo\n" {
		t.Fatalf("after close: %q", a.String())
	}
}
