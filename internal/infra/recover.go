package infra

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"
)

// GoRecoverable runs f and, when it panics, restarts it in a new goroutine
// after a growing delay. A negative maxPanics never gives up; once the limit
// is spent the process exits.
func GoRecoverable(maxPanics int, id string, f func()) {
	restart := backoff.NewExponentialBackOff()
	restart.InitialInterval = 100 * time.Millisecond
	restart.MaxInterval = 30 * time.Second
	restart.MaxElapsedTime = 0
	runRecoverable(maxPanics, id, f, restart, func() {
		log.WithField("job", id).Fatal("panics limit exceeded, exiting")
	})
}

func runRecoverable(maxPanics int, id string, f func(), restart backoff.BackOff, giveUp func()) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		entry := log.WithField("object", "infra").WithField("job", id)
		entry.WithField("panic", fmt.Sprint(err)).WithField("at", identifyPanic()).Error("job panicked")
		if maxPanics == 0 {
			giveUp()
			return
		}
		if maxPanics > 0 {
			maxPanics--
		}
		delay := restart.NextBackOff()
		entry.WithField("panics_left", maxPanics).Debugf("recovering in %s", delay)
		go func() {
			time.Sleep(delay)
			runRecoverable(maxPanics, id, f, restart, giveUp)
		}()
	}()
	f()
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
