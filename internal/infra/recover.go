package infra

import (
	"errors"
	"fmt"
	"runtime"
	"strings"

	log "github.com/sirupsen/logrus"
)

var ErrPanic = errors.New("recovered panic")

// GoRecoverable runs f and restarts it after a panic until maxPanics restarts
// are spent. A negative maxPanics restarts forever.
func GoRecoverable(maxPanics int, id string, f func()) {
	defer func() {
		if err := recover(); err != nil {
			entry := log.WithField("object", "Recoverable").WithField("job", id)
			entry.Errorf("panic: %v, %s", err, identifyPanic())
			switch {
			case maxPanics == 0:
				entry.Fatal("panics limit exceeded, exiting")
			case maxPanics > 0:
				maxPanics--
				entry.WithField("panics_left", maxPanics).Debug("recovering job")
			default:
				entry.Debug("recovering job")
			}
			go GoRecoverable(maxPanics, id, f)
		}
	}()
	f()
}

// SafeCall runs f and turns a panic into an error wrapping ErrPanic.
func SafeCall(id string, f func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w in %s: %v at %s", ErrPanic, id, r, identifyPanic())
		}
	}()
	return f()
}

func identifyPanic() string {
	var name, file string
	var line int
	var pc [16]uintptr

	n := runtime.Callers(3, pc[:])
	for _, pc := range pc[:n] {
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		file, line = fn.FileLine(pc)
		name = fn.Name()
		if !strings.HasPrefix(name, "runtime.") {
			break
		}
	}

	switch {
	case name != "":
		return fmt.Sprintf("%v:%v", name, line)
	case file != "":
		return fmt.Sprintf("%v:%v", file, line)
	}

	return fmt.Sprintf("pc:%x", pc)
}
