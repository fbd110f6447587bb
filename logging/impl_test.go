package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestObservedLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Debugw("scored candidate", "scale", 90.0, "score", 0.25)
	logger.Warnf("skipping %s", "3.jpg")

	test.That(t, logs.Len(), test.ShouldEqual, 2)
	test.That(t, logs.FilterMessageSnippet("skipping").Len(), test.ShouldEqual, 1)

	entry := logs.All()[0]
	test.That(t, entry.Level, test.ShouldEqual, zapcore.DebugLevel)
	test.That(t, entry.ContextMap()["scale"], test.ShouldEqual, 90.0)
}

func TestSubloggerNames(t *testing.T) {
	logger := NewBlankLogger("thermalign")
	sub := logger.Sublogger("calib").Sublogger("visual")
	test.That(t, sub.Name(), test.ShouldEqual, "thermalign.calib.visual")

	unnamed, _ := NewObservedTestLogger(t)
	test.That(t, unnamed.Sublogger("scale").Name(), test.ShouldEqual, "scale")
}

func TestGlobalReplace(t *testing.T) {
	prev := Global()
	defer ReplaceGlobal(prev)

	logger := NewBlankLogger("replaced")
	ReplaceGlobal(logger)
	test.That(t, Global().Name(), test.ShouldEqual, "replaced")
}
