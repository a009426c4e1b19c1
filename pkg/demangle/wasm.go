package demangle

import (
	"context"
	"fmt"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
)

// Export names of the demangling module
const (
	exportMangledBuffer    = "mangled_buffer"
	exportMangledBufferLen = "mangled_buffer_len"
	exportDemangledBuffer  = "demangled_buffer"
	exportDemangle         = "demangle"
)

// WasmModule is a demangling module instantiated in a wazero runtime
type WasmModule struct {
	runtime wazero.Runtime
	module  api.Module

	mangledBuffer    api.Function
	mangledBufferLen api.Function
	demangledBuffer  api.Function
	demangle         api.Function
}

// LoadWasm compiles and instantiates a demangling module. The module must
// export a memory and the four accessor functions.
func LoadWasm(ctx context.Context, binary []byte) (*WasmModule, error) {
	r := wazero.NewRuntime(ctx)

	mod, err := r.Instantiate(ctx, binary)
	if err != nil {
		r.Close(ctx)
		return nil, fmt.Errorf("instantiate module: %w", err)
	}

	w := &WasmModule{runtime: r, module: mod}
	for name, dst := range map[string]*api.Function{
		exportMangledBuffer:    &w.mangledBuffer,
		exportMangledBufferLen: &w.mangledBufferLen,
		exportDemangledBuffer:  &w.demangledBuffer,
		exportDemangle:         &w.demangle,
	} {
		fn := mod.ExportedFunction(name)
		if fn == nil {
			r.Close(ctx)
			return nil, fmt.Errorf("module does not export %q", name)
		}
		*dst = fn
	}
	if mod.Memory() == nil {
		r.Close(ctx)
		return nil, fmt.Errorf("module does not export a memory")
	}

	return w, nil
}

// FileLoader returns a Loader reading the module binary from path
func FileLoader(path string) Loader {
	return func(ctx context.Context) (Module, error) {
		if path == "" {
			return nil, ErrNoModule
		}
		binary, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read module: %w", err)
		}
		return LoadWasm(ctx, binary)
	}
}

// BytesLoader returns a Loader instantiating an in-memory module binary
func BytesLoader(binary []byte) Loader {
	return func(ctx context.Context) (Module, error) {
		return LoadWasm(ctx, binary)
	}
}

// Close releases the runtime
func (w *WasmModule) Close(ctx context.Context) error {
	return w.runtime.Close(ctx)
}

func call32(ctx context.Context, fn api.Function, params ...uint64) (uint32, error) {
	results, err := fn.Call(ctx, params...)
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("expected 1 result, got %d", len(results))
	}
	return api.DecodeU32(results[0]), nil
}

func (w *WasmModule) MangledBuffer(ctx context.Context) (uint32, error) {
	return call32(ctx, w.mangledBuffer)
}

func (w *WasmModule) MangledBufferLen(ctx context.Context) (uint32, error) {
	return call32(ctx, w.mangledBufferLen)
}

func (w *WasmModule) DemangledBuffer(ctx context.Context) (uint32, error) {
	return call32(ctx, w.demangledBuffer)
}

func (w *WasmModule) Demangle(ctx context.Context, n uint32) (uint32, error) {
	return call32(ctx, w.demangle, api.EncodeU32(n))
}

func (w *WasmModule) Memory() Memory {
	return w.module.Memory()
}
