//go:build windows

package config

import "os"

// hangupSignals has nothing to deliver on Windows; the file watcher alone
// drives reloads there.
func hangupSignals() (<-chan os.Signal, func()) {
	return nil, func() {}
}
