package dbc

// Must implements the throwing surface described in spec.md §4.6/§7/§9 as a
// thin wrapper over the non-throwing primitive: it panics with err (already
// an *Error, or wrapped into one) if err != nil, otherwise returns v.
//
// This mirrors the standard library's own Must-style wrappers (e.g.
// regexp.MustCompile, template.Must) — the idiomatic Go rendering of "a
// throwing form that unwraps a Result".
func Must[T any](v T, err error) T {
	if err != nil {
		panic(asError(err))
	}
	return v
}

// MustVoid is Must for operations with no useful value, e.g. Close().
func MustVoid(err error) {
	if err != nil {
		panic(asError(err))
	}
}

func asError(err error) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return NewError(KindUnknown, err.Error(), err)
}

// Safe runs fn and recovers any panic it raises, converting it into a
// Kind=UNKNOWN *Error carrying the captured stack. This is the non-throwing
// surface's half of the contract described in spec.md §7: "the non-throwing
// surface catches host-language panics/exceptions from sub-calls and
// converts them to UNKNOWN with the captured stack."
func Safe(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(KindUnknown, "recovered panic", panicToError(r))
		}
	}()
	return fn()
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		return err
	}
	return NewError(KindUnknown, "panic", nil)
}
