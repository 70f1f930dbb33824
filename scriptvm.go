package webbridge

// scriptVM is one JavaScript context, the page world of a headless engine.
// The backend is picked at build time: QuickJS by default, V8 under the v8
// build tag.
type scriptVM interface {
	// Eval runs a script and discards the result.
	Eval(js string) error

	// EvalString runs a script and returns the result coerced to a string.
	EvalString(js string) (string, error)

	// Bind installs a Go function as a global. Functions returning
	// (T, error) throw a TypeError in JS when the error is non-nil.
	Bind(name string, fn any) error

	// PumpMicrotasks drains the pending promise job queue.
	PumpMicrotasks()

	// Interrupt aborts the running script. Safe from other goroutines.
	Interrupt()

	Close()
}
