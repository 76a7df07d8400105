package engine

import (
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestDebugf_UsesInstalledLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	e := newTestEngine(t, nil)
	compile(t, e, "div", divWASM())

	entries := logs.FilterMessageSnippet("compiled div").All()
	if len(entries) != 1 {
		t.Fatalf("got %d compile debug entries, want 1", len(entries))
	}
	if entries[0].Level != zapcore.DebugLevel || entries[0].LoggerName != "engine" {
		t.Errorf("entry = %+v", entries[0].Entry)
	}
}

func TestDebugf_RespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(nil) })

	debugf("hidden %d", 1)
	for _, e := range logs.All() {
		if strings.Contains(e.Message, "hidden") {
			t.Errorf("debug entry emitted at info level: %q", e.Message)
		}
	}
}
