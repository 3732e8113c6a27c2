//go:build !linux && !darwin

package ble

import goble "github.com/go-ble/ble"

func newHCIDevice(_ int) (goble.Device, error) {
	return nil, ErrUnsupportedBackend
}
