package plugin

import (
	"context"
	"fmt"
	"sync"

	extism "github.com/extism/go-sdk"
	"github.com/sirupsen/logrus"

	"github.com/joncooperworks/capscan/contract"
)

func init() {
	RegisterLoader(contract.ABIExtism, func(ctx context.Context, logger *logrus.Logger) (Loader, error) {
		return NewExtismLoader(logger), nil
	})
}

// ExtismLoader loads extism-ABI modules using the Extism SDK. Each module is
// its own Extism plugin; objects share the plugin's state.
type ExtismLoader struct {
	logger *logrus.Logger
}

// NewExtismLoader creates a loader. Guest log lines go to logger.
func NewExtismLoader(logger *logrus.Logger) *ExtismLoader {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ExtismLoader{logger: logger}
}

// Load creates an Extism plugin from raw bytes.
func (l *ExtismLoader) Load(ctx context.Context, name string, data []byte) (Module, error) {
	manifest := extism.Manifest{
		Wasm: []extism.Wasm{
			extism.WasmData{Data: data},
		},
	}

	config := extism.PluginConfig{
		EnableWasi: true,
	}

	hostFunctions := []extism.HostFunction{
		newLogFunction(l.logger.WithField("module", name)),
	}

	p, err := extism.NewPlugin(ctx, manifest, config, hostFunctions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Extism plugin: %w", err)
	}

	return &extismModule{name: name, plugin: p}, nil
}

// Close is a no-op; modules own their plugins.
func (l *ExtismLoader) Close(ctx context.Context) error {
	return nil
}

type extismModule struct {
	name   string
	plugin *extism.Plugin

	// Extism plugins are not safe for concurrent calls.
	mu sync.Mutex
}

func (m *extismModule) Construct(ctx context.Context, typeName string) (contract.Object, error) {
	ctor := contract.Export(typeName, contract.ConstructorMethod)
	if !m.plugin.FunctionExists(ctor) {
		return nil, fmt.Errorf("%s in module %q: %w", typeName, m.name, contract.ErrNoConstructor)
	}

	obj := &extismObject{module: m, typeName: typeName}
	if _, err := obj.call(ctx, ctor); err != nil {
		return nil, fmt.Errorf("constructor of %s failed: %w", typeName, err)
	}
	return obj, nil
}

func (m *extismModule) Close(ctx context.Context) error {
	if m.plugin != nil {
		return m.plugin.Close(ctx)
	}
	return nil
}

type extismObject struct {
	module   *extismModule
	typeName string
}

func (o *extismObject) TypeName() string { return o.typeName }

// Call runs "<Type>.<method>". Extism exports take no parameters; input is
// passed through the plugin's input buffer instead.
func (o *extismObject) Call(ctx context.Context, method string, params ...uint64) ([]uint64, error) {
	if len(params) > 0 {
		return nil, fmt.Errorf("%s.%s: extism exports take no parameters", o.typeName, method)
	}
	if _, err := o.call(ctx, contract.Export(o.typeName, method)); err != nil {
		return nil, err
	}
	return nil, nil
}

// CallString returns the output buffer the function set.
func (o *extismObject) CallString(ctx context.Context, method string) (string, error) {
	out, err := o.call(ctx, contract.Export(o.typeName, method))
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (o *extismObject) call(ctx context.Context, export string) ([]byte, error) {
	o.module.mu.Lock()
	defer o.module.mu.Unlock()

	exitCode, out, err := o.module.plugin.CallWithContext(ctx, export, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to call function %s: %w", export, err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("function %s returned non-zero exit code: %d", export, exitCode)
	}
	return out, nil
}

// newLogFunction creates the capscan_log host function.
// WASM signature: (param i64) - takes a string offset
func newLogFunction(log *logrus.Entry) extism.HostFunction {
	fn := extism.NewHostFunctionWithStack(
		"capscan_log",
		func(ctx context.Context, p *extism.CurrentPlugin, stack []uint64) {
			msg, err := p.ReadString(stack[0])
			if err != nil {
				log.WithError(err).Warn("capscan_log: failed to read message")
				return
			}
			log.Info(msg)
		},
		[]extism.ValueType{extism.ValueTypeI64}, // msg_offset: i64
		[]extism.ValueType{},
	)
	fn.SetNamespace("env")
	return fn
}
