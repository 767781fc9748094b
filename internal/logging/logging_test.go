package logging

import (
	"testing"

	"go.uber.org/zap"
)

func TestNew_Levels(t *testing.T) {
	cases := map[string]bool{"debug": true, "info": false, "warn": false, "bogus": false}
	for level, debugEnabled := range cases {
		t.Setenv("LOG_LEVEL", level)
		t.Setenv("LOG_ENCODING", "console")

		l, err := New()
		if err != nil {
			t.Fatalf("%s: %v", level, err)
		}
		if got := l.Core().Enabled(zap.DebugLevel); got != debugEnabled {
			t.Errorf("%s: debug enabled = %v, want %v", level, got, debugEnabled)
		}
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("expected non-nil logger")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Error("expected same logger")
	}
}
