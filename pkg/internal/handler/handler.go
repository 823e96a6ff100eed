package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/jdziat/simple-lease-jobs/pkg/core"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	kwargsType  = reflect.TypeOf(core.Kwargs(nil))
)

// Handler holds metadata about a registered job handler.
type Handler struct {
	Fn         reflect.Value
	ArgTypes   []reflect.Type // positional parameters, after ctx and before kwargs
	HasContext bool
	HasKwargs  bool
	HasResult  bool
	Variadic   bool
}

// NewHandler creates a Handler from a function of the form
//
//	func([ctx context.Context,] p1 T1, ..., pn Tn [, kw core.Kwargs]) ([R,] error)
//
// The last positional parameter may be variadic when no Kwargs parameter is declared.
func NewHandler(fn any) (*Handler, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	fnVal := reflect.ValueOf(fn)
	if fnVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("handler must be a function")
	}
	if fnVal.IsNil() {
		return nil, fmt.Errorf("handler function cannot be nil")
	}

	fnType := fnVal.Type()
	h := &Handler{Fn: fnVal, Variadic: fnType.IsVariadic()}

	first, last := 0, fnType.NumIn()
	if last > 0 && fnType.In(0) == contextType {
		h.HasContext = true
		first = 1
	}
	if last > first && fnType.In(last-1) == kwargsType {
		h.HasKwargs = true
		last--
	}
	for i := first; i < last; i++ {
		in := fnType.In(i)
		if in == contextType {
			return nil, fmt.Errorf("context.Context must be the first parameter")
		}
		if in == kwargsType {
			return nil, fmt.Errorf("kwargs parameter must be last")
		}
		h.ArgTypes = append(h.ArgTypes, in)
	}

	switch fnType.NumOut() {
	case 1:
		if fnType.Out(0) != errorType {
			return nil, fmt.Errorf("handler must return error")
		}
	case 2:
		if fnType.Out(1) != errorType {
			return nil, fmt.Errorf("handler must return (T, error)")
		}
		h.HasResult = true
	default:
		return nil, fmt.Errorf("handler must return error or (T, error)")
	}

	return h, nil
}

// Arity returns the number of positional parameters. For a variadic handler
// the variadic parameter counts as one.
func (h *Handler) Arity() int {
	return len(h.ArgTypes)
}

// Call binds args and kwargs to the handler's parameters, invokes it, and
// returns the JSON encoding of its result. A handler without a result value
// returns nil bytes on success.
func (h *Handler) Call(ctx context.Context, args []json.RawMessage, kwargs core.Kwargs) ([]byte, error) {
	in, err := h.bind(ctx, args, kwargs)
	if err != nil {
		return nil, err
	}

	out := h.Fn.Call(in)
	errVal := out[len(out)-1]
	if !errVal.IsNil() {
		return nil, errVal.Interface().(error)
	}
	if !h.HasResult {
		return nil, nil
	}

	result, err := json.Marshal(out[0].Interface())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}
	return result, nil
}

func (h *Handler) bind(ctx context.Context, args []json.RawMessage, kwargs core.Kwargs) ([]reflect.Value, error) {
	fixed := len(h.ArgTypes)
	if h.Variadic {
		fixed--
		if len(args) < fixed {
			return nil, fmt.Errorf("handler takes at least %d positional arguments, got %d", fixed, len(args))
		}
	} else if len(args) != fixed {
		return nil, fmt.Errorf("handler takes %d positional arguments, got %d", fixed, len(args))
	}
	if !h.HasKwargs && len(kwargs) > 0 {
		return nil, fmt.Errorf("handler does not accept keyword arguments")
	}

	in := make([]reflect.Value, 0, len(args)+2)
	if h.HasContext {
		in = append(in, reflect.ValueOf(ctx))
	}

	for i, raw := range args {
		typ := h.argType(i)
		val := reflect.New(typ)
		if err := json.Unmarshal(raw, val.Interface()); err != nil {
			return nil, fmt.Errorf("failed to unmarshal argument %d: %w", i, err)
		}
		in = append(in, val.Elem())
	}

	if h.HasKwargs {
		if kwargs == nil {
			kwargs = core.Kwargs{}
		}
		in = append(in, reflect.ValueOf(kwargs))
	}
	return in, nil
}

// argType returns the type argument i decodes into. Arguments past the fixed
// parameters of a variadic handler decode into the slice's element type.
func (h *Handler) argType(i int) reflect.Type {
	if h.Variadic && i >= len(h.ArgTypes)-1 {
		return h.ArgTypes[len(h.ArgTypes)-1].Elem()
	}
	return h.ArgTypes[i]
}
