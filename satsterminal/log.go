package satsterminal

import (
	"github.com/btcsuite/btclog"
)

// Subsystem defines the sub system name of this package.
const Subsystem = "TERM"

// log is a logger that is initialized as disabled.  This means the package
// will not perform any logging by default until the caller requests it.
var log = btclog.Disabled

// UseLogger uses a specified Logger to output package logging info.
// This should be used in preference to SetLogWriter if the caller is also
// using btclog.
func UseLogger(logger btclog.Logger) {
	log = logger
}
