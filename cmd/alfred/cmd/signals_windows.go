//go:build windows

package cmd

import "os"

// gracefulSignals returns the OS signals that trigger shutdown. On
// Windows, only os.Interrupt is reliably delivered; SIGTERM does not
// exist.
func gracefulSignals() []os.Signal {
	return []os.Signal{os.Interrupt}
}
