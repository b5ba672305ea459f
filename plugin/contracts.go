package plugin

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"github.com/joncooperworks/capscan/contract"
)

// Wasm method names used by the plugin contracts.
const (
	MethodName       = "name"
	MethodDoTheThing = "do_the_thing"
	MethodExecute    = "execute"
)

var nameMethod = contract.Method{Name: MethodName, Results: []api.ValueType{api.ValueTypeI64}}

// PluginOneContract matches PluginOne implementations.
var PluginOneContract = contract.New[PluginOne]("PluginOne", bindPluginOne,
	nameMethod,
	contract.Method{Name: MethodDoTheThing},
)

// PluginTwoContract matches PluginTwo implementations.
var PluginTwoContract = contract.New[PluginTwo]("PluginTwo", bindPluginTwo,
	nameMethod,
	contract.Method{Name: MethodExecute},
)

// wasmComponent adapts a live wasm object to Component.
type wasmComponent struct {
	obj     contract.Object
	display string
}

// Name returns the name reported by the module, falling back to the display
// name when the module reports none.
func (c *wasmComponent) Name() string {
	result, err := c.obj.CallString(context.Background(), MethodName)
	if err == nil && result != "" {
		return result
	}
	return c.display
}

func (c *wasmComponent) call(ctx context.Context, method string) error {
	if _, err := c.obj.Call(ctx, method); err != nil {
		return fmt.Errorf("%s: %w", c.Name(), err)
	}
	return nil
}

type wasmPluginOne struct{ *wasmComponent }

func (p wasmPluginOne) DoTheThing(ctx context.Context) error {
	return p.call(ctx, MethodDoTheThing)
}

type wasmPluginTwo struct{ *wasmComponent }

func (p wasmPluginTwo) Execute(ctx context.Context) error {
	return p.call(ctx, MethodExecute)
}

func bindPluginOne(obj contract.Object, display string) (PluginOne, error) {
	return wasmPluginOne{&wasmComponent{obj: obj, display: display}}, nil
}

func bindPluginTwo(obj contract.Object, display string) (PluginTwo, error) {
	return wasmPluginTwo{&wasmComponent{obj: obj, display: display}}, nil
}
