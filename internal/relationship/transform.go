package relationship

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/timewave-computer/causality-sub006/internal/errs"
	"github.com/timewave-computer/causality-sub006/internal/value"
)

// Transform computes the derived fields of a target from its source data.
// Only the returned fields are written; other target fields are kept.
type Transform func(ctx context.Context, source value.Value) (value.Object, error)

// BridgeTransform converts data crossing a bridge. Forward maps source to
// target; Backward maps target to source and is only used for
// bidirectional bridges.
type BridgeTransform struct {
	Forward  func(ctx context.Context, v value.Value) (value.Value, error)
	Backward func(ctx context.Context, v value.Value) (value.Value, error)
}

// ScriptTransform compiles a JavaScript body into a Transform. The script
// sees the source data as `source` and must return an object, e.g.
//
//	return { total: source.a + source.b };
//
// Numbers must be integral. Each call runs in a fresh runtime, which is
// interrupted when ctx is done.
func ScriptTransform(script string) (Transform, error) {
	const op = "relationship.script"
	if script == "" {
		return nil, errs.New(errs.InvalidArgument, op, "script must not be empty")
	}
	program, err := goja.Compile("derive.js", fmt.Sprintf("(function(source){ %s })(source)", script), true)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidArgument, op, errs.Evaluation("js", script, "", err), "compile script")
	}
	return func(ctx context.Context, source value.Value) (value.Object, error) {
		vm := goja.New()
		if err := vm.Set("source", value.Native(source)); err != nil {
			return nil, errs.Wrap(errs.Internal, op, err, "bind source")
		}
		stop := context.AfterFunc(ctx, func() { vm.Interrupt(ctx.Err()) })
		defer stop()

		out, err := vm.RunProgram(program)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, op, errs.Evaluation("js", script, "", err), "run script")
		}
		v, err := value.FromNative(out.Export())
		if err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, op, err, "convert script result")
		}
		obj, ok := v.(value.Object)
		if !ok {
			return nil, errs.New(errs.InvalidArgument, op, "script must return an object, got %T", v)
		}
		return obj, nil
	}, nil
}
