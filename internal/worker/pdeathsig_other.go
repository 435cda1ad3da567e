//go:build !linux

package worker

// EnableParentDeathSignal is a no-op outside Linux.
func EnableParentDeathSignal() error { return nil }
