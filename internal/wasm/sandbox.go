// Package wasm runs agent modules inside a Wasmtime sandbox with fuel,
// wall-clock and filesystem limits. One Sandbox is created per worker
// process and shared across task groups; compiled modules are cached for
// the process lifetime.
package wasm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v27"
	"github.com/rs/zerolog"
)

// Status classifies a sandbox invocation outcome.
type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusFailed  Status = "FAILED"
)

// Result is the outcome of one invocation. Execute never fails with a Go
// error for guest-side problems; everything lands here.
type Result struct {
	Status Status
	Output map[string]interface{}
	Error  string
}

func failure(format string, args ...interface{}) Result {
	return Result{Status: StatusFailed, Error: fmt.Sprintf(format, args...)}
}

// Config bounds a single invocation.
type Config struct {
	// Fuel is the instruction budget per invocation.
	Fuel uint64
	// WallClock limits elapsed time per invocation.
	WallClock time.Duration
}

// DefaultConfig returns the production limits: 100M fuel units, roughly a
// few hundred milliseconds of pure compute, and a 5 second wall clock.
func DefaultConfig() Config {
	return Config{
		Fuel:      100_000_000,
		WallClock: 5 * time.Second,
	}
}

// epochTick is the granularity of the wall-clock limit. The engine epoch is
// bumped on this cadence and each store's deadline is expressed in ticks, so
// concurrent invocations time out independently.
const epochTick = 100 * time.Millisecond

// Sandbox compiles and executes WASM agent modules.
type Sandbox struct {
	engine *wasmtime.Engine
	config Config
	logger zerolog.Logger

	mu      sync.RWMutex
	modules map[string]*wasmtime.Module

	stopTicker chan struct{}
	tickerOnce sync.Once
}

// NewSandbox creates the process-wide sandbox and starts the epoch ticker.
func NewSandbox(config Config, logger zerolog.Logger) *Sandbox {
	engineCfg := wasmtime.NewConfig()
	engineCfg.SetConsumeFuel(true)
	engineCfg.SetEpochInterruption(true)

	s := &Sandbox{
		engine:     wasmtime.NewEngineWithConfig(engineCfg),
		config:     config,
		logger:     logger.With().Str("component", "wasm").Logger(),
		modules:    make(map[string]*wasmtime.Module),
		stopTicker: make(chan struct{}),
	}

	go s.tickEpoch()

	s.logger.Info().
		Uint64("fuel", config.Fuel).
		Dur("wall_clock", config.WallClock).
		Msg("wasm sandbox initialized")
	return s
}

// Close stops the epoch ticker. In-flight invocations trap shortly after.
func (s *Sandbox) Close() {
	s.tickerOnce.Do(func() { close(s.stopTicker) })
}

func (s *Sandbox) tickEpoch() {
	ticker := time.NewTicker(epochTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.engine.IncrementEpoch()
		case <-s.stopTicker:
			return
		}
	}
}

// getModule returns the compiled module for path, compiling and caching it
// on first use. Two goroutines racing on the same path may both compile;
// the second store wins with an equal module, which is harmless.
func (s *Sandbox) getModule(path string) (*wasmtime.Module, error) {
	s.mu.RLock()
	module, ok := s.modules[path]
	s.mu.RUnlock()
	if ok {
		return module, nil
	}

	s.logger.Info().Str("module", path).Msg("compiling wasm module")
	module, err := wasmtime.NewModuleFromFile(s.engine, path)
	if err != nil {
		return nil, fmt.Errorf("failed to compile module %s: %w", path, err)
	}

	s.mu.Lock()
	s.modules[path] = module
	s.mu.Unlock()
	return module, nil
}

// Execute runs one module invocation under the sandbox limits. The guest
// must export memory, allocate_memory, free_memory and run; input is passed
// as UTF-8 JSON through guest-allocated buffers and the run result packs
// the output pointer and size into one u64.
func (s *Sandbox) Execute(
	ctx context.Context,
	groupID string,
	taskInstanceID int64,
	modulePath string,
	inputData map[string]interface{},
	workspaceDir string,
) Result {
	logger := s.logger.With().
		Str("group_id", groupID).
		Int64("task_instance_id", taskInstanceID).
		Logger()

	if err := ctx.Err(); err != nil {
		return failure("execution cancelled before start: %v", err)
	}

	module, err := s.getModule(modulePath)
	if err != nil {
		return failure("%v", err)
	}

	store := wasmtime.NewStore(s.engine)
	if err := store.SetFuel(s.config.Fuel); err != nil {
		return failure("failed to set fuel limit: %v", err)
	}
	store.SetEpochDeadline(uint64(s.config.WallClock / epochTick))

	wasiCfg := wasmtime.NewWasiConfig()
	wasiCfg.InheritStdout()
	wasiCfg.InheritStderr()
	// The workspace is the only host resource the guest can see, mapped as
	// its root directory.
	if err := wasiCfg.PreopenDir(workspaceDir, "/",
		wasmtime.DIR_READ|wasmtime.DIR_WRITE,
		wasmtime.FILE_READ|wasmtime.FILE_WRITE); err != nil {
		return failure("failed to preopen workspace %s: %v", workspaceDir, err)
	}
	store.SetWasi(wasiCfg)

	linker := wasmtime.NewLinker(s.engine)
	if err := linker.DefineWasi(); err != nil {
		return failure("failed to define wasi imports: %v", err)
	}

	instance, err := linker.Instantiate(store, module)
	if err != nil {
		return failure("failed to instantiate module: %v", err)
	}

	memExport := instance.GetExport(store, "memory")
	if memExport == nil || memExport.Memory() == nil {
		return failure("wasm module must export a 'memory' object")
	}
	memory := memExport.Memory()

	allocate := instance.GetFunc(store, "allocate_memory")
	free := instance.GetFunc(store, "free_memory")
	run := instance.GetFunc(store, "run")
	if allocate == nil || free == nil || run == nil {
		return failure("wasm module must export 'allocate_memory', 'free_memory' and 'run'")
	}

	if inputData == nil {
		inputData = map[string]interface{}{}
	}
	inputBytes, err := json.Marshal(inputData)
	if err != nil {
		return failure("failed to encode input data: %v", err)
	}
	inputSize := int32(len(inputBytes))

	allocated, err := allocate.Call(store, inputSize)
	if err != nil {
		return failure("allocate_memory trapped: %v", err)
	}
	inputPtr, ok := allocated.(int32)
	if !ok {
		return failure("allocate_memory must return an i32 pointer, got %T", allocated)
	}

	// Buffers handed to the guest are returned via free_memory on every
	// path that still holds a valid pointer, including traps in run.
	freeInput := func() {
		if _, err := free.Call(store, inputPtr, inputSize); err != nil {
			logger.Warn().Err(err).Msg("free_memory failed for input buffer")
		}
	}

	data := memory.UnsafeData(store)
	if int(inputPtr)+len(inputBytes) > len(data) {
		freeInput()
		return failure("allocate_memory returned out-of-bounds pointer %d", inputPtr)
	}
	copy(data[inputPtr:int(inputPtr)+len(inputBytes)], inputBytes)

	logger.Debug().Int32("ptr", inputPtr).Int32("size", inputSize).Msg("wrote input to wasm memory")

	packed, err := run.Call(store, inputPtr, inputSize)
	if err != nil {
		freeInput()
		// Fuel exhaustion, epoch deadline and memory violations all surface
		// as traps.
		return failure("wasm execution trapped: %v", err)
	}
	packedInt, ok := packed.(int64)
	if !ok {
		freeInput()
		return failure("run must return a packed u64, got %T", packed)
	}

	outputPtr, outputSize := unpackResult(packedInt)

	outputJSON := []byte("{}")
	if outputSize > 0 {
		data = memory.UnsafeData(store)
		if int(outputPtr)+int(outputSize) > len(data) {
			freeInput()
			return failure("run returned out-of-bounds output ptr=%d size=%d", outputPtr, outputSize)
		}
		// Copy out before freeing; the slice aliases guest memory.
		outputJSON = append([]byte(nil), trimTrailingNULs(data[outputPtr:outputPtr+outputSize])...)
	}

	freeInput()
	if outputSize > 0 {
		if _, err := free.Call(store, int32(outputPtr), int32(outputSize)); err != nil {
			logger.Warn().Err(err).Msg("free_memory failed for output buffer")
		}
	}

	var output map[string]interface{}
	if err := json.Unmarshal(outputJSON, &output); err != nil {
		return failure("wasm output is not valid JSON: %v", err)
	}

	logger.Debug().Uint32("size", outputSize).Msg("read output from wasm memory")
	return Result{Status: StatusSuccess, Output: output}
}

// unpackResult splits the packed run result: high 32 bits are the output
// pointer, low 32 bits the output size.
func unpackResult(packed int64) (ptr, size uint32) {
	return uint32(uint64(packed) >> 32), uint32(uint64(packed) & 0xFFFFFFFF)
}

// trimTrailingNULs drops NUL padding left by guests that return
// C-style strings.
func trimTrailingNULs(b []byte) []byte {
	return bytes.TrimRight(b, "\x00")
}
