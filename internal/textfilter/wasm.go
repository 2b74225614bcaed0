package textfilter

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	"github.com/narralabs/narra-core/internal/config"
)

const defaultMaxOutputBytes = 4 << 20

// Host ABI status codes returned by output_write.
const (
	writeOK         = 0
	writeErrLimit   = 1
	writeErrRuntime = 2
)

// wasmFilter runs a guest module against chapter text. The module
// imports input_len, input_read, and output_write from the "env" host
// module, reads the chapter, and writes the transformed text back. A
// fresh runtime is built per invocation so guest state never leaks
// between chapters or workers.
type wasmFilter struct {
	manifest  Manifest
	wasmBytes []byte
	maxOutput int
	logger    *slog.Logger
}

func newWASMFilter(spec config.FilterSpec, logger *slog.Logger) (*wasmFilter, error) {
	if spec.Manifest == "" {
		return nil, fmt.Errorf("wasm filter needs a manifest path")
	}
	m, err := LoadManifest(spec.Manifest)
	if err != nil {
		return nil, fmt.Errorf("load manifest: %w", err)
	}
	if err := ValidateManifest(m); err != nil {
		return nil, fmt.Errorf("validate manifest %s: %w", spec.Manifest, err)
	}
	modulePath := m.Runtime.Module
	if !filepath.IsAbs(modulePath) {
		modulePath = filepath.Join(filepath.Dir(spec.Manifest), modulePath)
	}
	wasmBytes, err := os.ReadFile(modulePath)
	if err != nil {
		return nil, fmt.Errorf("read wasm module: %w", err)
	}
	maxOutput := m.Limits.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputBytes
	}
	return &wasmFilter{
		manifest:  m,
		wasmBytes: wasmBytes,
		maxOutput: maxOutput,
		logger:    logger,
	}, nil
}

func (f *wasmFilter) Name() string { return f.manifest.Metadata.Name }

func (f *wasmFilter) Apply(ctx context.Context, text string) (string, error) {
	rt := wazero.NewRuntime(ctx)
	defer rt.Close(ctx)

	input := []byte(text)
	var output bytes.Buffer

	if err := f.instantiateHostModule(ctx, rt, input, &output); err != nil {
		return "", fmt.Errorf("instantiate host module: %w", err)
	}
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, rt); err != nil {
		return "", fmt.Errorf("instantiate WASI: %w", err)
	}

	compiled, err := rt.CompileModule(ctx, f.wasmBytes)
	if err != nil {
		return "", fmt.Errorf("compile module: %w", err)
	}
	defer compiled.Close(ctx)

	module, err := rt.InstantiateModule(ctx, compiled, wazero.NewModuleConfig().WithName(f.manifest.Metadata.Name))
	if err != nil {
		return "", fmt.Errorf("instantiate module: %w", err)
	}
	defer module.Close(ctx)

	entry := module.ExportedFunction(f.manifest.Runtime.Entrypoint)
	if entry == nil {
		return "", fmt.Errorf("entrypoint %q not found", f.manifest.Runtime.Entrypoint)
	}
	if _, err := entry.Call(ctx); err != nil {
		return "", fmt.Errorf("invoke filter: %w", err)
	}
	if output.Len() == 0 {
		return "", fmt.Errorf("filter wrote no output")
	}
	return output.String(), nil
}

func (f *wasmFilter) instantiateHostModule(ctx context.Context, rt wazero.Runtime, input []byte, output *bytes.Buffer) error {
	builder := rt.NewHostModuleBuilder("env")

	inputLenFn := api.GoModuleFunc(func(_ context.Context, _ api.Module, stack []uint64) {
		stack[0] = api.EncodeU32(uint32(len(input)))
	})
	builder.NewFunctionBuilder().
		WithGoModuleFunction(inputLenFn, nil, []api.ValueType{api.ValueTypeI32}).
		WithName("input_len").
		Export("input_len")

	inputReadFn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		ptr := api.DecodeU32(stack[0])
		mem := mod.Memory()
		if mem == nil {
			stack[0] = api.EncodeU32(0)
			return
		}
		if !mem.Write(ptr, input) {
			f.logger.Warn("filter memory write failed",
				slog.String("filter", f.Name()),
				slog.Int("bytes", len(input)))
			stack[0] = api.EncodeU32(0)
			return
		}
		stack[0] = api.EncodeU32(uint32(len(input)))
	})
	builder.NewFunctionBuilder().
		WithGoModuleFunction(inputReadFn, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		WithName("input_read").
		Export("input_read")

	outputWriteFn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		ptr := api.DecodeU32(stack[0])
		length := api.DecodeU32(stack[1])
		mem := mod.Memory()
		if mem == nil {
			stack[0] = api.EncodeI32(writeErrRuntime)
			return
		}
		if output.Len()+int(length) > f.maxOutput {
			f.logger.Warn("filter output limit exceeded",
				slog.String("filter", f.Name()),
				slog.Int("limit", f.maxOutput))
			stack[0] = api.EncodeI32(writeErrLimit)
			return
		}
		if length > 0 {
			data, ok := mem.Read(ptr, length)
			if !ok {
				stack[0] = api.EncodeI32(writeErrRuntime)
				return
			}
			output.Write(data)
		}
		stack[0] = api.EncodeI32(writeOK)
	})
	builder.NewFunctionBuilder().
		WithGoModuleFunction(outputWriteFn, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		WithName("output_write").
		WithResultNames("code").
		Export("output_write")

	hostLogFn := api.GoModuleFunc(func(_ context.Context, mod api.Module, stack []uint64) {
		ptr := api.DecodeU32(stack[0])
		length := api.DecodeU32(stack[1])
		if length == 0 {
			return
		}
		mem := mod.Memory()
		if mem == nil {
			return
		}
		data, ok := mem.Read(ptr, length)
		if !ok {
			return
		}
		f.logger.Info("filter log",
			slog.String("filter", f.Name()),
			slog.String("message", string(data)))
	})
	builder.NewFunctionBuilder().
		WithGoModuleFunction(hostLogFn, []api.ValueType{api.ValueTypeI32, api.ValueTypeI32}, nil).
		WithName("host_log").
		Export("host_log")

	_, err := builder.Instantiate(ctx)
	return err
}
