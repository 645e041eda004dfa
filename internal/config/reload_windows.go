//go:build windows

package config

import "os"

// SIGHUP does not exist on Windows; the file watcher is the only trigger.
var reloadSignals []os.Signal
