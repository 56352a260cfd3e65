package wasm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v27"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnpackResult(t *testing.T) {
	cases := []struct {
		name   string
		packed int64
		ptr    uint32
		size   uint32
	}{
		{"zero", 0, 0, 0},
		{"size only", 42, 0, 42},
		{"ptr only", int64(1024) << 32, 1024, 0},
		{"both", int64(1024)<<32 | 17, 1024, 17},
		{"max size", int64(1)<<32 | 0xFFFFFFFF, 1, 0xFFFFFFFF},
		{"high ptr bit set", int64(-1)<<63 | 8, 0x80000000, 8},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ptr, size := unpackResult(c.packed)
			assert.Equal(t, c.ptr, ptr)
			assert.Equal(t, c.size, size)
		})
	}
}

func TestTrimTrailingNULs(t *testing.T) {
	assert.Equal(t, []byte(`{"a":1}`), trimTrailingNULs([]byte("{\"a\":1}\x00\x00")))
	assert.Equal(t, []byte(`{}`), trimTrailingNULs([]byte("{}")))
	// Interior NULs are preserved; only padding is stripped.
	assert.Equal(t, []byte("a\x00b"), trimTrailingNULs([]byte("a\x00b\x00")))
	assert.Empty(t, trimTrailingNULs([]byte("\x00\x00")))
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, uint64(100_000_000), cfg.Fuel)
	assert.Equal(t, "5s", cfg.WallClock.String())
}

// echoAgentWAT implements the full agent ABI with a bump allocator and a run
// that hands the input buffer straight back as the output.
const echoAgentWAT = `(module
  (memory (export "memory") 1)
  (global $next (mut i32) (i32.const 1024))
  (func (export "allocate_memory") (param $size i32) (result i32)
    (local $ptr i32)
    global.get $next
    local.set $ptr
    global.get $next
    local.get $size
    i32.add
    global.set $next
    local.get $ptr)
  (func (export "free_memory") (param i32) (param i32))
  (func (export "run") (param $ptr i32) (param $size i32) (result i64)
    local.get $ptr
    i64.extend_i32_u
    i64.const 32
    i64.shl
    local.get $size
    i64.extend_i32_u
    i64.or))`

// silentAgentWAT returns a zero-size output from run.
const silentAgentWAT = `(module
  (memory (export "memory") 1)
  (func (export "allocate_memory") (param i32) (result i32) i32.const 1024)
  (func (export "free_memory") (param i32) (param i32))
  (func (export "run") (param i32) (param i32) (result i64) i64.const 0))`

// spinAgentWAT never returns from run; it burns fuel until a limit traps it.
const spinAgentWAT = `(module
  (memory (export "memory") 1)
  (func (export "allocate_memory") (param i32) (result i32) i32.const 1024)
  (func (export "free_memory") (param i32) (param i32))
  (func (export "run") (param i32) (param i32) (result i64)
    (loop $spin
      br $spin)
    i64.const 0))`

const memoryOnlyWAT = `(module (memory (export "memory") 1))`

func writeModule(t *testing.T, wat string) string {
	t.Helper()
	wasmBytes, err := wasmtime.Wat2Wasm(wat)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "agent.wasm")
	require.NoError(t, os.WriteFile(path, wasmBytes, 0o644))
	return path
}

func newTestSandbox(t *testing.T, cfg Config) *Sandbox {
	t.Helper()
	s := NewSandbox(cfg, zerolog.Nop())
	t.Cleanup(s.Close)
	return s
}

func TestExecuteRoundTripsJSON(t *testing.T) {
	s := newTestSandbox(t, DefaultConfig())
	path := writeModule(t, echoAgentWAT)

	input := map[string]interface{}{"message": "hello", "limit": float64(3)}
	res := s.Execute(context.Background(), "grp123456789", 1, path, input, t.TempDir())

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Equal(t, input, res.Output)
}

func TestExecuteNilInputBecomesEmptyObject(t *testing.T) {
	s := newTestSandbox(t, DefaultConfig())
	path := writeModule(t, echoAgentWAT)

	res := s.Execute(context.Background(), "grp123456789", 2, path, nil, t.TempDir())

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.Empty(t, res.Output)
}

func TestExecuteZeroSizeOutputDefaultsToEmptyObject(t *testing.T) {
	s := newTestSandbox(t, DefaultConfig())
	path := writeModule(t, silentAgentWAT)

	res := s.Execute(context.Background(), "grp123456789", 3, path,
		map[string]interface{}{"ignored": true}, t.TempDir())

	require.Equal(t, StatusSuccess, res.Status, res.Error)
	assert.NotNil(t, res.Output)
	assert.Empty(t, res.Output)
}

func TestExecuteFuelExhaustionTraps(t *testing.T) {
	s := newTestSandbox(t, Config{Fuel: 1_000_000, WallClock: 5 * time.Second})
	path := writeModule(t, spinAgentWAT)

	res := s.Execute(context.Background(), "grp123456789", 4, path, nil, t.TempDir())

	require.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "trapped")
}

func TestExecuteWallClockTraps(t *testing.T) {
	s := newTestSandbox(t, Config{Fuel: 1 << 60, WallClock: 300 * time.Millisecond})
	path := writeModule(t, spinAgentWAT)

	start := time.Now()
	res := s.Execute(context.Background(), "grp123456789", 5, path, nil, t.TempDir())

	require.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "trapped")
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestExecuteRejectsModuleMissingExports(t *testing.T) {
	s := newTestSandbox(t, DefaultConfig())
	path := writeModule(t, memoryOnlyWAT)

	res := s.Execute(context.Background(), "grp123456789", 6, path, nil, t.TempDir())

	require.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "allocate_memory")
}

func TestExecuteUnknownModulePath(t *testing.T) {
	s := newTestSandbox(t, DefaultConfig())
	missing := filepath.Join(t.TempDir(), "missing.wasm")

	res := s.Execute(context.Background(), "grp123456789", 7, missing, nil, t.TempDir())

	require.Equal(t, StatusFailed, res.Status)
	assert.Contains(t, res.Error, "failed to compile")
}
