package natives

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"embervm/internal/container"
	"embervm/internal/heap"
	"embervm/internal/strpool"
	"embervm/internal/value"
)

// pluginRequest/pluginResponse mirror the subprocess RPC wire format used
// by out-of-tree extensions (cmd/ember-plugin-kv is one such extension):
// one JSON object per line on stdin, one JSON object per line of stdout.
type pluginRequest struct {
	Method string        `json:"method"`
	Params []interface{} `json:"params"`
}

type pluginResponse struct {
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

type pluginClient struct {
	name    string
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	running bool
	lock    sync.Mutex
}

// PluginHost loads and multiplexes subprocess extensions; one Host is
// shared process-wide, matching the registry pattern the teacher's plugin
// package uses for LoadedPlugins.
type PluginHost struct {
	mu      sync.Mutex
	loaded  map[string]*pluginClient
	libsDir string
	pool    *strpool.Pool
}

func NewPluginHost(libsDir string, pool *strpool.Pool) *PluginHost {
	return &PluginHost{loaded: make(map[string]*pluginClient), libsDir: libsDir, pool: pool}
}

func (h *PluginHost) Load(name, executableName string) (*pluginClient, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.loaded[name]; ok {
		return c, nil
	}

	execPath, err := h.resolveExecutable(name, executableName)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(execPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin %s: stdin pipe: %w", name, err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("plugin %s: stdout pipe: %w", name, err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("plugin %s: start: %w", name, err)
	}

	c := &pluginClient{name: name, cmd: cmd, stdin: stdin, stdout: bufio.NewScanner(stdoutPipe), running: true}
	h.loaded[name] = c
	return c, nil
}

func (h *PluginHost) resolveExecutable(name, executableName string) (string, error) {
	if path, err := exec.LookPath(executableName); err == nil {
		return path, nil
	}
	candidate := filepath.Join(h.libsDir, name, executableName)
	if _, err := os.Stat(candidate); err == nil {
		return filepath.Abs(candidate)
	}
	if _, err := os.Stat(candidate + ".exe"); err == nil {
		return filepath.Abs(candidate + ".exe")
	}
	if _, err := os.Stat(executableName); err == nil {
		return filepath.Abs(executableName)
	}
	return "", fmt.Errorf("plugin %s: executable %q not found in PATH or %s", name, executableName, h.libsDir)
}

func (c *pluginClient) call(method string, args []value.Value) (value.Value, error) {
	c.lock.Lock()
	defer c.lock.Unlock()

	if !c.running {
		return value.NewNil(), fmt.Errorf("plugin %s is not running", c.name)
	}

	params := make([]interface{}, len(args))
	for i, a := range args {
		params[i] = valueToInterface(a)
	}
	reqBytes, err := json.Marshal(pluginRequest{Method: method, Params: params})
	if err != nil {
		return value.NewNil(), fmt.Errorf("plugin %s: marshal request: %w", c.name, err)
	}
	if _, err := c.stdin.Write(append(reqBytes, '\n')); err != nil {
		c.running = false
		return value.NewNil(), fmt.Errorf("plugin %s: write request: %w", c.name, err)
	}

	if !c.stdout.Scan() {
		c.running = false
		if err := c.stdout.Err(); err != nil {
			return value.NewNil(), fmt.Errorf("plugin %s: read response: %w", c.name, err)
		}
		return value.NewNil(), fmt.Errorf("plugin %s: unexpected EOF", c.name)
	}

	var resp pluginResponse
	if err := json.Unmarshal(c.stdout.Bytes(), &resp); err != nil {
		return value.NewNil(), fmt.Errorf("plugin %s: unmarshal response: %w", c.name, err)
	}
	if resp.Error != "" {
		return value.NewNil(), fmt.Errorf("plugin %s: remote error: %s", c.name, resp.Error)
	}
	return interfaceToValue(resp.Result), nil
}

// BindPluginCall registers a native function that proxies a call to a
// loaded plugin's method, so script code calls it like any other native.
func (h *PluginHost) BindPluginCall(m *Module, name, executableName, method string, arity int) {
	m.Register(name, arity, func(args []any) (any, error) {
		c, err := h.Load(name, executableName)
		if err != nil {
			return nil, err
		}
		vargs := make([]value.Value, len(args))
		for i, a := range args {
			vargs[i] = a.(value.Value)
		}
		return c.call(method, vargs)
	})
}

func valueToInterface(v value.Value) interface{} {
	switch v.Type {
	case value.Nil:
		return nil
	case value.Bool:
		return v.AsBool
	case value.Int:
		return v.AsInt
	case value.Float:
		return v.AsFloat
	case value.Obj:
		if s, ok := v.AsString(); ok {
			return s.String()
		}
		if arr, ok := v.AsArray(); ok {
			out := make([]interface{}, 0, container.ArrayLen(arr))
			container.ArrayEach(arr, func(_ int, e value.Value) { out = append(out, valueToInterface(e)) })
			return out
		}
		if m, ok := v.AsMap(); ok {
			out := make(map[string]interface{})
			m.Each(func(intKey int64, strKey *heap.String, isIntKey bool, val any) {
				key := fmt.Sprintf("%d", intKey)
				if !isIntKey {
					key = strKey.String()
				}
				out[key] = valueToInterface(val.(value.Value))
			})
			return out
		}
	}
	return fmt.Sprintf("%v", v)
}

func interfaceToValue(i interface{}) value.Value {
	switch v := i.(type) {
	case nil:
		return value.NewNil()
	case bool:
		return value.NewBool(v)
	case float64:
		if float64(int64(v)) == v {
			return value.NewInt(int64(v))
		}
		return value.NewFloat(v)
	case string:
		return value.NewRawString(v)
	case []interface{}:
		elems := make([]value.Value, len(v))
		for i, e := range v {
			elems[i] = interfaceToValue(e)
		}
		return value.NewObj(container.NewArray(elems))
	case map[string]interface{}:
		m := heap.NewMap()
		storage := container.WrapMap(m, nil)
		for k, val := range v {
			storage.Set(value.NewRawString(k), interfaceToValue(val))
		}
		return value.NewObj(m)
	default:
		return value.NewRawString(fmt.Sprintf("%v", v))
	}
}
