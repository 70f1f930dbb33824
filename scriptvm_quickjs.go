//go:build !v8

package webbridge

import (
	"fmt"
	"reflect"
	"unsafe"

	"modernc.org/libc"
	lib "modernc.org/libquickjs"
	"modernc.org/quickjs"
)

type qjsVM struct {
	vm *quickjs.VM
}

func newScriptVM() (scriptVM, error) {
	vm, err := quickjs.NewVM()
	if err != nil {
		return nil, fmt.Errorf("creating QuickJS VM: %w", err)
	}
	return &qjsVM{vm: vm}, nil
}

func (v *qjsVM) Eval(js string) error {
	val, err := v.vm.EvalValue(js, quickjs.EvalGlobal)
	if err != nil {
		return err
	}
	val.Free()
	return nil
}

func (v *qjsVM) EvalString(js string) (string, error) {
	res, err := v.vm.Eval(js, quickjs.EvalGlobal)
	if err != nil {
		return "", err
	}
	if res == nil {
		return "", nil
	}
	return fmt.Sprint(res), nil
}

// Bind registers fn under name. The QuickJS wrapper returns multi-value Go
// results as JS arrays, so (T, error) returns are unwrapped by a shim that
// throws on a non-null error slot.
func (v *qjsVM) Bind(name string, fn any) error {
	raw := "__native_" + name
	if err := v.vm.RegisterFunc(raw, fn, false); err != nil {
		return err
	}
	shim := fmt.Sprintf(`(function() {
		var raw = globalThis[%q];
		globalThis[%q] = function() {
			var r = raw.apply(this, arguments);
			if (Array.isArray(r)) {
				if (r[1] !== null && r[1] !== undefined) throw new TypeError("" + r[1]);
				return r[0];
			}
			return r;
		};
		delete globalThis[%q];
	})()`, raw, name, raw)
	return v.Eval(shim)
}

// PumpMicrotasks runs pending promise jobs. The Go wrapper never calls
// JS_ExecutePendingJob itself, so .then callbacks would stay queued forever;
// the runtime pointers are pulled out with reflection and the job loop runs
// against the C API directly.
func (v *qjsVM) PumpMicrotasks() {
	rt, tls, ok := extractQJSRuntime(v.vm)
	if !ok {
		return
	}
	for lib.XJS_ExecutePendingJob(tls, rt, 0) > 0 {
	}
}

func (v *qjsVM) Interrupt() { v.vm.Interrupt() }

func (v *qjsVM) Close() { v.vm.Close() }

// extractQJSRuntime pulls the unexported cRuntime and tls fields out of the
// VM. Layout per modernc.org/quickjs v0.17:
//
//	type VM struct {
//	    cContext uintptr
//	    ...
//	    runtime  *runtime
//	}
//
//	type runtime struct {
//	    cRuntime uintptr
//	    tls      *libc.TLS
//	}
func extractQJSRuntime(vm *quickjs.VM) (cRuntime uintptr, tls *libc.TLS, ok bool) {
	defer func() {
		if recover() != nil {
			cRuntime, tls, ok = 0, nil, false
		}
	}()

	vmVal := reflect.ValueOf(vm).Elem()
	rtField := vmVal.FieldByName("runtime")
	if !rtField.IsValid() || rtField.IsNil() {
		return 0, nil, false
	}
	rtVal := reflect.NewAt(rtField.Type().Elem(), unsafe.Pointer(rtField.Pointer())).Elem()

	cField := rtVal.FieldByName("cRuntime")
	if !cField.IsValid() {
		return 0, nil, false
	}
	cRuntime = uintptr(cField.Uint())

	tlsField := rtVal.FieldByName("tls")
	if !tlsField.IsValid() || tlsField.IsNil() {
		return 0, nil, false
	}
	tls = (*libc.TLS)(unsafe.Pointer(tlsField.Pointer()))

	return cRuntime, tls, true
}
