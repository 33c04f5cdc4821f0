package log

import "sync/atomic"

// Dynamic is a Logger whose destination can be replaced at runtime.
// It is safe for concurrent use.
type Dynamic struct {
	target atomic.Pointer[holder]
}

type holder struct {
	l Logger
}

// NewDynamic creates a Dynamic logger writing to initial.
// A nil initial logger discards output until Set is called.
func NewDynamic(initial Logger) *Dynamic {
	d := &Dynamic{}
	d.Set(initial)
	return d
}

// Set replaces the destination logger.
func (d *Dynamic) Set(l Logger) {
	d.target.Store(&holder{l: OrNoop(l)})
}

// Current returns the destination logger.
func (d *Dynamic) Current() Logger {
	return d.target.Load().l
}

func (d *Dynamic) Debug(msg string, fields ...Field) { d.Current().Debug(msg, fields...) }
func (d *Dynamic) Info(msg string, fields ...Field)  { d.Current().Info(msg, fields...) }
func (d *Dynamic) Warn(msg string, fields ...Field)  { d.Current().Warn(msg, fields...) }
func (d *Dynamic) Error(msg string, fields ...Field) { d.Current().Error(msg, fields...) }
