package monitoring

import (
	"testing"
)

func TestSetLogger(t *testing.T) {
	// Save original logger
	original := Logf
	defer func() { Logf = original }()

	called := false
	customLogger := func(format string, v ...interface{}) {
		called = true
	}

	SetLogger(customLogger)
	Logf("test message")

	if !called {
		t.Error("Custom logger was not called")
	}

	// Now set to nil and verify it doesn't call our logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("No-op logger should not have triggered callback")
	}
}

func TestLogf_Default(t *testing.T) {
	if Logf == nil {
		t.Error("Logf should not be nil by default")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Errorf("Logf panicked: %v", r)
		}
	}()

	Logf("test message: %s", "value")
	Warnf("warn message: %d", 1)
	Debugf("debug message")
}

func TestConfigure(t *testing.T) {
	origLogf, origDebugf, origWarnf := Logf, Debugf, Warnf
	defer func() { Logf, Debugf, Warnf = origLogf, origDebugf, origWarnf }()

	sync, err := Configure("debug")
	if err != nil {
		t.Fatalf("Configure(debug) failed: %v", err)
	}
	Debugf("configured at %s", "debug")
	_ = sync()

	if _, err := Configure("shouting"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestMute(t *testing.T) {
	origLogf, origDebugf, origWarnf := Logf, Debugf, Warnf
	defer func() { Logf, Debugf, Warnf = origLogf, origDebugf, origWarnf }()

	Mute()
	Logf("muted")
	Warnf("muted")
	Debugf("muted")
}

func TestNewProgress_Disabled(t *testing.T) {
	p := NewProgress("test", 10, false)
	for i := 0; i < 10; i++ {
		p.Increment()
	}
	p.Finish()

	if _, ok := NewProgress("empty", 0, true).(noopProgress); !ok {
		t.Error("expected no-op progress for an empty batch")
	}
}
