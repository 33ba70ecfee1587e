package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureOutput redirects logger output to a buffer for testing.
func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput := output
	originalColor := useColor
	output = buf
	useColor = false
	mu.Unlock()

	reconfigure()

	cleanup := func() {
		mu.Lock()
		output = originalOutput
		useColor = originalColor
		mu.Unlock()
		reconfigure()
	}

	return buf, cleanup
}

func TestLevelFiltering(t *testing.T) {
	t.Run("DebugLevelShowsAllMessages", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.Contains(t, out, "DEBUG")
		assert.Contains(t, out, "debug message")
		assert.Contains(t, out, "info message")
		assert.Contains(t, out, "warn message")
		assert.Contains(t, out, "error message")
	})

	t.Run("InfoLevelFiltersDebug", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		Debug("debug message")
		Info("info message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.Contains(t, out, "info message")
	})

	t.Run("ErrorLevelShowsOnlyErrors", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")
		Debug("debug message")
		Info("info message")
		Warn("warn message")
		Error("error message")

		out := buf.String()
		assert.NotContains(t, out, "INFO")
		assert.NotContains(t, out, "WARN")
		assert.Contains(t, out, "ERROR")
	})
}

func TestSetLevel(t *testing.T) {
	t.Run("IsCaseInsensitive", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("debug")
		Debug("test message")
		assert.Contains(t, buf.String(), "test message")
	})

	t.Run("IgnoresInvalidValues", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		buf.Reset()
		SetLevel("NOTALEVEL")
		Debug("debug message")
		Info("info message")

		out := buf.String()
		assert.NotContains(t, out, "debug message")
		assert.Contains(t, out, "info message")
	})
}

func TestMessageFormatting(t *testing.T) {
	t.Run("FormatsMessagesWithTimestampAndLevel", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		Info("test message")

		out := buf.String()
		assert.Regexp(t, `\[\d{4}-\d{2}-\d{2} \d{2}:\d{2}:\d{2}\]`, out)
		assert.Contains(t, out, "[INFO]")
	})

	t.Run("FormatsStructuredFields", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		Info("acquired resource", KeyResource, "vm-disk-0", KeyLVer, 7)

		out := buf.String()
		assert.Contains(t, out, "acquired resource")
		assert.Contains(t, out, "resource=vm-disk-0")
		assert.Contains(t, out, "lver=7")
	})
}

func TestLevelString(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "INFO", LevelInfo.String())
	assert.Equal(t, "WARN", LevelWarn.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", Level(99).String())
}

func TestConcurrentLogging(t *testing.T) {
	t.Run("ConcurrentLogsDoNotRace", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")

		const numGoroutines = 10
		const logsPerGoroutine = 100

		var wg sync.WaitGroup
		wg.Add(numGoroutines)
		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < logsPerGoroutine; j++ {
					Info("renewal tick", "host_id", id, "iteration", j)
				}
			}(i)
		}
		wg.Wait()

		lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
		assert.Equal(t, numGoroutines*logsPerGoroutine, len(lines))
	})

	t.Run("ConcurrentLevelChanges", func(t *testing.T) {
		InitWithWriter(io.Discard, "DEBUG", "text", false)
		defer func() {
			mu.Lock()
			output = os.Stdout
			mu.Unlock()
			reconfigure()
		}()

		const numGoroutines = 5
		const iterations = 50

		var wg sync.WaitGroup
		wg.Add(numGoroutines * 2)

		for i := 0; i < numGoroutines; i++ {
			go func() {
				defer wg.Done()
				for j := 0; j < iterations; j++ {
					if j%2 == 0 {
						SetLevel("DEBUG")
					} else {
						SetLevel("ERROR")
					}
				}
			}()
		}
		for i := 0; i < numGoroutines; i++ {
			go func(id int) {
				defer wg.Done()
				for j := 0; j < iterations; j++ {
					Debug("d", "host_id", id)
					Info("i", "host_id", id)
					Warn("w", "host_id", id)
					Error("e", "host_id", id)
				}
			}(i)
		}

		require.NotPanics(t, func() {
			wg.Wait()
		})
	})
}

func TestJSONFormat(t *testing.T) {
	t.Run("ProducesValidJSON", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetFormat("json")
		Info("ballot accepted", "mbal", 42)

		entry := map[string]any{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
		assert.Equal(t, "INFO", entry["level"])
		assert.Equal(t, "ballot accepted", entry["msg"])
		assert.Equal(t, float64(42), entry["mbal"])
		assert.Contains(t, entry, "time")
	})
}

func TestFormatSwitching(t *testing.T) {
	t.Run("SwitchFromTextToJSON", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetFormat("text")
		Info("text message")
		textOutput := buf.String()
		buf.Reset()

		SetFormat("json")
		Info("json message")
		jsonOutput := strings.TrimSpace(buf.String())

		assert.Contains(t, textOutput, "[INFO]")
		assert.True(t, json.Valid([]byte(jsonOutput)))
	})

	t.Run("InvalidFormatIgnored", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetFormat("text")
		SetFormat("xml")
		Info("test message")

		assert.Contains(t, buf.String(), "[INFO]")
	})
}

func TestContextLogging(t *testing.T) {
	t.Run("LogContextInjectsLeaseFields", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		SetFormat("json")

		lc := &LogContext{
			Lockspace:  "cluster1",
			Resource:   "vm-disk-0",
			HostID:     3,
			Generation: 9,
			LVer:       5,
			Mbal:       12,
		}
		ctx := WithContext(context.Background(), lc)

		InfoCtx(ctx, "acquire succeeded", "extra_field", "value")

		entry := map[string]any{}
		require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))

		assert.Equal(t, "cluster1", entry["lockspace"])
		assert.Equal(t, "vm-disk-0", entry["resource"])
		assert.Equal(t, float64(3), entry["host_id"])
		assert.Equal(t, float64(9), entry["generation"])
		assert.Equal(t, float64(5), entry["lver"])
		assert.Equal(t, float64(12), entry["mbal"])
		assert.Equal(t, "value", entry["extra_field"])
	})

	t.Run("NilContextHandled", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		require.NotPanics(t, func() {
			InfoCtx(nil, "test message")
		})
		assert.Contains(t, buf.String(), "test message")
	})

	t.Run("ContextWithoutLogContextHandled", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("INFO")
		require.NotPanics(t, func() {
			InfoCtx(context.Background(), "test message")
		})
		assert.Contains(t, buf.String(), "test message")
	})
}

func TestLogContext(t *testing.T) {
	t.Run("NewLogContext", func(t *testing.T) {
		lc := NewLogContext("cluster1")
		assert.Equal(t, "cluster1", lc.Lockspace)
		assert.False(t, lc.StartTime.IsZero())
	})

	t.Run("Clone", func(t *testing.T) {
		lc := &LogContext{Lockspace: "cluster1", Resource: "vm-disk-0", HostID: 1}
		clone := lc.Clone()
		assert.Equal(t, lc.Lockspace, clone.Lockspace)
		assert.Equal(t, lc.Resource, clone.Resource)

		clone.Resource = "vm-disk-1"
		assert.Equal(t, "vm-disk-0", lc.Resource)
	})

	t.Run("CloneNil", func(t *testing.T) {
		var lc *LogContext
		assert.Nil(t, lc.Clone())
	})

	t.Run("WithResource", func(t *testing.T) {
		lc := NewLogContext("cluster1")
		lc2 := lc.WithResource("vm-disk-0")
		assert.Equal(t, "vm-disk-0", lc2.Resource)
		assert.Equal(t, "", lc.Resource)
	})

	t.Run("WithHostAndBallot", func(t *testing.T) {
		lc := NewLogContext("cluster1")
		lc2 := lc.WithHost(2, 7).WithBallot(3, 11)
		assert.Equal(t, uint64(2), lc2.HostID)
		assert.Equal(t, uint64(7), lc2.Generation)
		assert.Equal(t, uint64(3), lc2.LVer)
		assert.Equal(t, uint64(11), lc2.Mbal)
	})
}

func TestFieldHelpers(t *testing.T) {
	t.Run("ErrHandlesNil", func(t *testing.T) {
		attr := Err(nil)
		assert.Equal(t, "", attr.Key)
	})

	t.Run("ErrFormatsError", func(t *testing.T) {
		attr := Err(assert.AnError)
		assert.Equal(t, KeyError, attr.Key)
		assert.Contains(t, attr.Value.String(), "assert.AnError")
	})

	t.Run("LVerAndMbal", func(t *testing.T) {
		assert.Equal(t, KeyLVer, LVer(1).Key)
		assert.Equal(t, KeyMbal, Mbal(1).Key)
	})
}

func TestPrintfStyleLogging(t *testing.T) {
	t.Run("DebugfFormatsCorrectly", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("DEBUG")
		Debugf("host %d renewed generation %d", 3, 9)
		assert.Contains(t, buf.String(), "host 3 renewed generation 9")
	})

	t.Run("ErrorfFormatsCorrectly", func(t *testing.T) {
		buf, cleanup := captureOutput()
		defer cleanup()

		SetLevel("ERROR")
		Errorf("ballot failed: %v", "mbal too low")
		assert.Contains(t, buf.String(), "ballot failed: mbal too low")
	})
}

func TestInit(t *testing.T) {
	t.Run("InitWithWriter", func(t *testing.T) {
		buf := new(bytes.Buffer)
		InitWithWriter(buf, "DEBUG", "text", false)
		Debug("test message")
		assert.Contains(t, buf.String(), "test message")

		mu.Lock()
		output = os.Stdout
		mu.Unlock()
		reconfigure()
	})

	t.Run("InitWithEmptyConfig", func(t *testing.T) {
		require.NoError(t, Init(Config{}))
	})
}

func BenchmarkLogDisabled(b *testing.B) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "ERROR", "text", false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Debug("test message", "key", "value")
	}
}

func BenchmarkLogJSON(b *testing.B) {
	buf := new(bytes.Buffer)
	InitWithWriter(buf, "DEBUG", "json", false)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		Info("test message", "key", "value", "count", i)
	}
}
