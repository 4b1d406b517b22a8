// Package testlog provides a log handler for unit tests, forwarding records
// to the test output so failures come with their log context.
package testlog

import (
	"testing"

	"github.com/ethereum/go-ethereum/log"
)

type handler struct {
	t   *testing.T
	fmt log.Format
}

func (h *handler) Log(r *log.Record) error {
	h.t.Logf("%s", h.fmt.Format(r))
	return nil
}

// Logger returns a logger emitting records at or above the given level into
// the test log.
func Logger(t *testing.T, lvl log.Lvl) log.Logger {
	l := log.New()
	l.SetHandler(log.LvlFilterHandler(lvl, &handler{t, log.TerminalFormat(false)}))
	return l
}
