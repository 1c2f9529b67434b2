package log

import (
	"bytes"
	"os"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	specs := []struct {
		name     string
		expLevel Level
		expErr   bool
	}{
		{"debug", Debug, false},
		{" INFO ", Info, false},
		{"", Notice, false},
		{"warn", Warning, false},
		{"error", Error, false},
		{"loud", Notice, true},
	}
	for specIndex, spec := range specs {
		level, err := ParseLevel(spec.name)
		if (err != nil) != spec.expErr {
			t.Fatalf("[spec %d] expected error %t; got %v", specIndex, spec.expErr, err)
		}
		if level != spec.expLevel {
			t.Fatalf("[spec %d] expected level %s; got %s", specIndex, spec.expLevel, level)
		}
	}
}

func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	SetSink(&buf)
	defer SetSink(os.Stdout)
	defer SetLevel(Notice)

	SetLevel(Warning)
	SetModuleLevel("chatty", Debug)

	New("quiet").Info("dropped")
	New("quiet").Warning("kept warning")
	New("chatty").Debug("kept debug")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("expected info output to be filtered:\n%s", out)
	}
	for _, exp := range []string{"kept warning", "[chatty]", "kept debug"} {
		if !strings.Contains(out, exp) {
			t.Fatalf("expected output to contain %q:\n%s", exp, out)
		}
	}
}
