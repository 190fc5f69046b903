//go:build !linux && !darwin

package vault

import "errors"

var errMemlockUnsupported = errors.New("memory locking not supported on this platform")

func lockMemory(b []byte) error   { return errMemlockUnsupported }
func unlockMemory(b []byte) error { return errMemlockUnsupported }
