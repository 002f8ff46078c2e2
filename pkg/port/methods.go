package port

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"unicode"
	"unicode/utf8"
)

var (
	contextType = reflect.TypeFor[context.Context]()
	errorType   = reflect.TypeFor[error]()
)

// Methods builds a service method table from the exported methods of recv.
// Method names are lower-camel-cased ("Add" becomes "add").
//
// A method may take a leading context.Context; the remaining parameters
// are decoded from the request arguments in order, and missing arguments
// are left as zero values. It may return nothing, a value, an error, or a
// value and an error.
func Methods(recv any) (map[string]Handler, error) {
	v := reflect.ValueOf(recv)
	if !v.IsValid() {
		return nil, fmt.Errorf("methods: nil receiver")
	}
	t := v.Type()
	out := make(map[string]Handler, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		h, err := reflectHandler(v.Method(i))
		if err != nil {
			return nil, fmt.Errorf("methods: %s.%s: %w", t, m.Name, err)
		}
		out[lowerFirst(m.Name)] = h
	}
	return out, nil
}

func reflectHandler(fn reflect.Value) (Handler, error) {
	ft := fn.Type()
	if ft.IsVariadic() {
		return nil, fmt.Errorf("variadic methods are not supported")
	}

	first := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		first = 1
	}

	var valueOut, errOut = -1, -1
	switch ft.NumOut() {
	case 0:
	case 1:
		if ft.Out(0) == errorType {
			errOut = 0
		} else {
			valueOut = 0
		}
	case 2:
		if ft.Out(1) != errorType {
			return nil, fmt.Errorf("second result must be error")
		}
		valueOut, errOut = 0, 1
	default:
		return nil, fmt.Errorf("too many results")
	}

	return HandlerFunc(func(ctx context.Context, req *Request) (any, error) {
		in := make([]reflect.Value, 0, ft.NumIn())
		if first == 1 {
			in = append(in, reflect.ValueOf(ctx))
		}
		for i := first; i < ft.NumIn(); i++ {
			arg := reflect.New(ft.In(i))
			if idx := i - first; idx < req.Args.Len() {
				if err := json.Unmarshal(req.Args[idx], arg.Interface()); err != nil {
					return nil, fmt.Errorf("argument %d: %w", idx, err)
				}
			}
			in = append(in, arg.Elem())
		}

		out := fn.Call(in)
		var (
			val any
			err error
		)
		if valueOut >= 0 {
			val = out[valueOut].Interface()
		}
		if errOut >= 0 && !out[errOut].IsNil() {
			err = out[errOut].Interface().(error)
		}
		return val, err
	}), nil
}

func lowerFirst(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[n:]
}
