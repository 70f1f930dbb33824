//go:build v8

package webbridge

import (
	"fmt"
	"reflect"

	v8 "github.com/tommie/v8go"
)

type v8VM struct {
	iso *v8.Isolate
	ctx *v8.Context
}

func newScriptVM() (scriptVM, error) {
	iso := v8.NewIsolate()
	ctx := v8.NewContext(iso)
	return &v8VM{iso: iso, ctx: ctx}, nil
}

func (v *v8VM) Eval(js string) error {
	_, err := v.ctx.RunScript(js, "page.js")
	return err
}

func (v *v8VM) EvalString(js string) (string, error) {
	val, err := v.ctx.RunScript(js, "page.js")
	if err != nil {
		return "", err
	}
	if val == nil {
		return "", nil
	}
	return val.String(), nil
}

// Bind installs fn as a global function. Arguments are marshaled by
// reflection; string, int, and bool parameters are supported, and a trailing
// error return throws in JS.
func (v *v8VM) Bind(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("binding %s: expected function, got %T", name, fn)
	}

	tmpl := v8.NewFunctionTemplate(v.iso, func(info *v8.FunctionCallbackInfo) *v8.Value {
		args := info.Args()
		if len(args) < fnType.NumIn() {
			msg, _ := v8.NewValue(v.iso, fmt.Sprintf("%s requires %d argument(s)", name, fnType.NumIn()))
			v.iso.ThrowException(msg)
			return nil
		}
		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := 0; i < fnType.NumIn(); i++ {
			goArgs[i] = v8ArgToGo(args[i], fnType.In(i))
		}
		results := fnVal.Call(goArgs)
		switch fnType.NumOut() {
		case 1:
			return goToV8(v.iso, results[0])
		case 2:
			if !results[1].IsNil() {
				msg, _ := v8.NewValue(v.iso, results[1].Interface().(error).Error())
				v.iso.ThrowException(msg)
				return nil
			}
			return goToV8(v.iso, results[0])
		}
		return nil
	})
	return v.ctx.Global().Set(name, tmpl.GetFunction(v.ctx))
}

func (v *v8VM) PumpMicrotasks() { v.ctx.PerformMicrotaskCheckpoint() }

func (v *v8VM) Interrupt() { v.iso.TerminateExecution() }

func (v *v8VM) Close() {
	v.ctx.Close()
	v.iso.Dispose()
}

func v8ArgToGo(val *v8.Value, target reflect.Type) reflect.Value {
	switch target.Kind() {
	case reflect.String:
		return reflect.ValueOf(val.String())
	case reflect.Int:
		return reflect.ValueOf(int(val.Integer()))
	case reflect.Int64:
		return reflect.ValueOf(val.Integer())
	case reflect.Float64:
		return reflect.ValueOf(val.Number())
	case reflect.Bool:
		return reflect.ValueOf(val.Boolean())
	default:
		return reflect.Zero(target)
	}
}

func goToV8(iso *v8.Isolate, val reflect.Value) *v8.Value {
	if !val.IsValid() {
		return nil
	}
	switch val.Kind() {
	case reflect.String:
		out, _ := v8.NewValue(iso, val.String())
		return out
	case reflect.Int, reflect.Int32, reflect.Int64:
		out, _ := v8.NewValue(iso, int32(val.Int()))
		return out
	case reflect.Float32, reflect.Float64:
		out, _ := v8.NewValue(iso, val.Float())
		return out
	case reflect.Bool:
		out, _ := v8.NewValue(iso, val.Bool())
		return out
	default:
		return nil
	}
}
