// Package log2 solves these issues:
// - log level filtering, e.g. show debug messages in internal tests only
// - safe concurrent change of log level
//
// Primary goal was to run parallel tests and log into t.Logf() safely.
package log2

import (
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"math"
	"os"
	"sync/atomic"
	"testing"
)

const (
	// type specified here helped against accidentally passing flags as level
	Lmicroseconds     int = log.Lmicroseconds
	Lshortfile        int = log.Lshortfile
	LStdFlags         int = log.Ltime | Lshortfile
	LInteractiveFlags int = log.Ltime | Lshortfile | Lmicroseconds
	LServiceFlags     int = Lshortfile
	LTestFlags        int = Lshortfile | Lmicroseconds
)

type Level int32

const (
	LError = iota
	LInfo
	LDebug
	LAll = math.MaxInt32
)

type Log struct {
	l      *log.Logger
	level  Level
	w      io.Writer
	fatalf FmtFunc
	onerr  atomic.Value // ErrorFunc
}

type ErrorFunc func(error)
type FmtFunc func(format string, args ...interface{})
type FmtFuncWriter struct{ FmtFunc }

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }
func NewWriter(w io.Writer, level Level) *Log {
	if w == ioutil.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		level: level,
		w:     w,
	}
}

func NewFunc(f FmtFunc, level Level) *Log { return NewWriter(FmtFuncWriter{f}, level) }
func (fw FmtFuncWriter) Write(b []byte) (int, error) {
	fw.FmtFunc(string(b))
	return len(b), nil
}

func NewTest(t testing.TB, level Level) *Log {
	l := NewFunc(t.Logf, level)
	l.fatalf = t.Fatalf
	return l
}

func (l *Log) Clone(level Level) *Log {
	if l == nil {
		return nil
	}
	new := NewWriter(l.w, level)
	new.fatalf = l.fatalf
	new.SetFlags(l.l.Flags())
	if x := l.onerr.Load(); x != nil {
		new.onerr.Store(x)
	}
	return new
}

func (l *Log) SetErrorFunc(f ErrorFunc) {
	if l == nil {
		return
	}
	l.onerr.Store(f)
}

func (l *Log) SetLevel(lv Level) {
	if l == nil {
		return
	}
	atomic.StoreInt32((*int32)(&l.level), int32(lv))
}

func (l *Log) SetFlags(f int) {
	if l == nil {
		return
	}
	l.l.SetFlags(f)
}

func (l *Log) SetPrefix(prefix string) {
	if l == nil {
		return
	}
	l.l.SetPrefix(prefix)
}

func (l *Log) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return atomic.LoadInt32((*int32)(&l.level)) >= int32(level)
}

func (l *Log) Log(level Level, s string) {
	if l.Enabled(level) {
		l.l.Output(3, s)
	}
}
func (l *Log) Logf(level Level, format string, args ...interface{}) {
	if l.Enabled(level) {
		l.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (l *Log) Error(args ...interface{}) {
	l.Log(LError, "error: "+fmt.Sprint(args...))
	if l != nil {
		if x := l.onerr.Load(); x != nil {
			var e error
			if len(args) == 1 {
				if argErr, ok := args[0].(error); ok {
					e = argErr
				}
			}
			if e == nil {
				e = fmt.Errorf(fmt.Sprint(args...))
			}
			x.(ErrorFunc)(e)
		}
	}
}
func (l *Log) Errorf(format string, args ...interface{}) {
	l.Logf(LError, "error: "+format, args...)
	if l != nil {
		if x := l.onerr.Load(); x != nil {
			e := fmt.Errorf(format, args...)
			x.(ErrorFunc)(e)
		}
	}
}
func (l *Log) Info(args ...interface{}) {
	l.Log(LInfo, fmt.Sprint(args...))
}
func (l *Log) Infof(format string, args ...interface{}) {
	l.Logf(LInfo, format, args...)
}
func (l *Log) Debug(args ...interface{}) {
	l.Log(LDebug, "debug: "+fmt.Sprint(args...))
}
func (l *Log) Debugf(format string, args ...interface{}) {
	l.Logf(LDebug, "debug: "+format, args...)
}

func (l *Log) Fatalf(format string, args ...interface{}) {
	if l == nil {
		return
	}
	if l.fatalf != nil {
		l.fatalf(format, args...)
	} else {
		l.Logf(LError, "fatal: "+format, args...)
		os.Exit(1)
	}
}
func (l *Log) Fatal(args ...interface{}) {
	if l == nil {
		return
	}
	s := fmt.Sprint(args...)
	if l.fatalf != nil {
		l.fatalf(s)
	} else {
		l.Logf(LError, "fatal: "+s)
		os.Exit(1)
	}
}
