package observability

import (
	"bytes"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/xkilldash9x/droidpilot/internal/config"
)

// memSink is an in-memory WriteSyncer for capturing log output.
type memSink struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *memSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *memSink) Sync() error { return nil }

func (s *memSink) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestInitialize_JSONFormat(t *testing.T) {
	ResetForTest()

	sink := &memSink{}
	Initialize(config.LoggerConfig{Level: "debug", Format: "json", ServiceName: "droidpilot-test"}, sink)

	GetLogger().Info("hello from the test")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(sink.String()), &entry))
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "hello from the test", entry["msg"])
	assert.Equal(t, "droidpilot-test", entry["logger"])
}

func TestInitialize_LevelFiltering(t *testing.T) {
	ResetForTest()

	sink := &memSink{}
	Initialize(config.LoggerConfig{Level: "warn", Format: "json", ServiceName: "test"}, sink)

	GetLogger().Info("should be filtered")
	GetLogger().Warn("should pass")

	out := sink.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should pass")
}

func TestInitialize_InvalidLevelFallsBackToInfo(t *testing.T) {
	ResetForTest()

	sink := &memSink{}
	Initialize(config.LoggerConfig{Level: "nonsense", Format: "json", ServiceName: "test"}, sink)

	GetLogger().Debug("should be filtered")
	GetLogger().Info("should pass")

	out := sink.String()
	assert.NotContains(t, out, "should be filtered")
	assert.Contains(t, out, "should pass")
}

func TestInitialize_OnlyFirstCallWins(t *testing.T) {
	ResetForTest()

	first := &memSink{}
	second := &memSink{}
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "first"}, first)
	Initialize(config.LoggerConfig{Level: "info", Format: "json", ServiceName: "second"}, second)

	GetLogger().Info("routed")

	assert.Contains(t, first.String(), "routed")
	assert.Empty(t, second.String())
}

func TestGetLogger_FallbackBeforeInitialization(t *testing.T) {
	ResetForTest()

	logger := GetLogger()
	require.NotNil(t, logger)
	// Must not panic even without initialization.
	logger.Debug("fallback logger works")
}

func TestColorizedLevelEncoder(t *testing.T) {
	encoder := newColorizedLevelEncoder(config.ColorConfig{Info: "green", Error: "red"})

	enc := &capturingArrayEncoder{}
	encoder(zapcore.InfoLevel, enc)
	assert.Contains(t, enc.values[0], "INFO")
	assert.Contains(t, enc.values[0], colorGreen)

	enc = &capturingArrayEncoder{}
	encoder(zapcore.WarnLevel, enc)
	// No color configured for warn: plain level text.
	assert.Equal(t, "WARN", enc.values[0])
}

type capturingArrayEncoder struct {
	zapcore.PrimitiveArrayEncoder
	values []string
}

func (c *capturingArrayEncoder) AppendString(s string) {
	c.values = append(c.values, s)
}
