package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	SetOutput(&buf)
	prev := CurrentLevel()
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel(prev)
	})
	return &buf
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   DebugLevel,
		"INFO":    InfoLevel,
		"":        InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		" error ": ErrorLevel,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLoggerFormatAndLevels(t *testing.T) {
	buf := capture(t)
	SetLevel(InfoLevel)

	log := GetLogger("server")
	assert.Contains(t, Names(), "server")

	log.Debugf("hidden %d", 1)
	log.Infof("listening on %s", "127.0.0.1:8000")
	log.Warningf("slow")
	log.Errorf("boom")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "INFO  | server          | listening on 127.0.0.1:8000")
	assert.Contains(t, lines[1], "WARN  | server          | slow")
	assert.Contains(t, lines[2], "ERROR | server          | boom")

	buf.Reset()
	SetLevel(ErrorLevel)
	log.Warningf("quiet")
	assert.Empty(t, buf.String())
	log.Errorf("loud")
	assert.Contains(t, buf.String(), "ERROR | server          | loud")
}

func TestLevelAppliesToLaterLoggers(t *testing.T) {
	buf := capture(t)
	SetLevel(DebugLevel)

	GetLogger("late-created").Debugf("visible")
	assert.Contains(t, buf.String(), "DEBUG | late-created    | visible")

	buf.Reset()
	GetLogger("late-created").SetLevel(ErrorLevel)
	GetLogger("late-created").Infof("muted")
	assert.Empty(t, buf.String())
}

func TestPanicf(t *testing.T) {
	buf := capture(t)
	assert.PanicsWithValue(t, "bad state 7", func() {
		GetLogger("panics").Panicf("bad state %d", 7)
	})
	assert.Contains(t, buf.String(), "PANIC | panics          | bad state 7")
}

func TestSetupWithFile(t *testing.T) {
	prev := CurrentLevel()
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		SetLevel(prev)
	})

	path := filepath.Join(t.TempDir(), "tinyrpc.log")
	require.NoError(t, Setup(Options{Level: "debug", File: path}))
	assert.Equal(t, DebugLevel, CurrentLevel())

	GetLogger("test").Debugf("to file")
	require.NoError(t, Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "DEBUG | test            | to file")

	assert.Error(t, Setup(Options{Level: "nope"}))
}
