package guardrail

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	extism "github.com/extism/go-sdk"
)

// WASMFilter runs a classifier compiled to WASM using the Extism SDK.
// Filters get no host functions and no allowed hosts, so a filter can
// inspect message text but can never exfiltrate it.
type WASMFilter struct {
	name   string
	plugin *extism.Plugin
	ctx    context.Context
}

// NewWASMFilter compiles and instantiates a filter from raw WASM bytes.
// The module must export a scan function that reads the message body
// from its input and writes a JSON verdict {"flag": bool, "reason":
// string} to its output.
func NewWASMFilter(name string, data []byte) (*WASMFilter, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: data},
		},
	}

	ctx := context.Background()
	config := extism.PluginConfig{
		EnableWasi: true,
	}

	plugin, err := extism.NewPlugin(ctx, manifest, config, []extism.HostFunction{})
	if err != nil {
		return nil, fmt.Errorf("failed to create filter %q: %w", name, err)
	}

	return &WASMFilter{name: name, plugin: plugin, ctx: ctx}, nil
}

// LoadWASMFilter loads a filter from a .wasm file. The filter's name
// is the file's base name without its extension.
func LoadWASMFilter(path string) (*WASMFilter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read filter file: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return NewWASMFilter(name, data)
}

// Name returns the filter's name.
func (f *WASMFilter) Name() string {
	return f.name
}

type filterVerdict struct {
	Flag   bool   `json:"flag"`
	Reason string `json:"reason"`
}

// Check calls the filter's exported scan function on the message body.
func (f *WASMFilter) Check(body []byte) (bool, string, error) {
	exitCode, out, err := f.plugin.Call("scan", body)
	if err != nil {
		return false, "", fmt.Errorf("failed to call scan: %w", err)
	}
	if exitCode != 0 {
		return false, "", fmt.Errorf("scan returned non-zero exit code: %d", exitCode)
	}

	var verdict filterVerdict
	if err := json.Unmarshal(out, &verdict); err != nil {
		return false, "", fmt.Errorf("failed to parse scan verdict: %w", err)
	}
	return verdict.Flag, verdict.Reason, nil
}

// Close releases the filter's plugin instance.
func (f *WASMFilter) Close() error {
	if f.plugin != nil {
		return f.plugin.Close(f.ctx)
	}
	return nil
}
