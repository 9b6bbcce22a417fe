package runtime

import (
	"context"

	"github.com/risor-io/risor/object"

	"github.com/jward/capwire/internal/logging"
)

// stringArg validates that a builtin received exactly one string argument.
func stringArg(name string, args []object.Object) (string, *object.Error) {
	if len(args) != 1 {
		return "", object.NewArgsError(name, 1, len(args))
	}
	s, ok := args[0].(*object.String)
	if !ok {
		return "", object.Errorf("%s: argument must be a string, got %s", name, args[0].Type())
	}
	return s.Value(), nil
}

// makeHasFieldFn creates the "has_field" host function.
//
// has_field(name) → bool
func makeHasFieldFn(env Env) *object.Builtin {
	return object.NewBuiltin("has_field", func(ctx context.Context, args ...object.Object) object.Object {
		name, err := stringArg("has_field", args)
		if err != nil {
			return err
		}
		return object.NewBool(env.HasField(name))
	})
}

// makeFieldTypeFn creates the "field_type" host function.
//
// field_type(name) → string or nil
func makeFieldTypeFn(env Env) *object.Builtin {
	return object.NewBuiltin("field_type", func(ctx context.Context, args ...object.Object) object.Object {
		name, err := stringArg("field_type", args)
		if err != nil {
			return err
		}
		typ, ok := env.FieldType(name)
		if !ok {
			return object.Nil
		}
		return object.NewString(typ)
	})
}

// makeHasMethodFn creates the "has_method" host function. Hand-written and
// generated methods both count.
//
// has_method(name) → bool
func makeHasMethodFn(env Env) *object.Builtin {
	return object.NewBuiltin("has_method", func(ctx context.Context, args ...object.Object) object.Object {
		name, err := stringArg("has_method", args)
		if err != nil {
			return err
		}
		return object.NewBool(env.HasMethod(name))
	})
}

// makeSlotFn creates the "slot" host function.
//
// slot(name) → string or nil when the slot is unbound
func makeSlotFn(env Env) *object.Builtin {
	return object.NewBuiltin("slot", func(ctx context.Context, args ...object.Object) object.Object {
		name, err := stringArg("slot", args)
		if err != nil {
			return err
		}
		typ, ok := env.Slot(name)
		if !ok {
			return object.Nil
		}
		return object.NewString(typ)
	})
}

// makeWiredFn creates the "wired" host function.
//
// wired(key) → bool, true when the context's delegation table has key
func makeWiredFn(env Env) *object.Builtin {
	return object.NewBuiltin("wired", func(ctx context.Context, args ...object.Object) object.Object {
		key, err := stringArg("wired", args)
		if err != nil {
			return err
		}
		return object.NewBool(env.Wired(key))
	})
}

// makeLogFn creates "log", which writes a debug entry tagged with the
// context being evaluated.
//
// log(message) → nil
func makeLogFn(env Env) *object.Builtin {
	return object.NewBuiltin("log", func(ctx context.Context, args ...object.Object) object.Object {
		msg, err := stringArg("log", args)
		if err != nil {
			return err
		}
		logging.Logger.Debugw(msg, "context", env.ContextName(), "package", env.PackageName())
		return object.Nil
	})
}
