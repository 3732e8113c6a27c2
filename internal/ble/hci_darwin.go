//go:build darwin

package ble

import (
	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/darwin"
)

// On macOS the controller is owned by CoreBluetooth; the device id is ignored.
func newHCIDevice(_ int) (goble.Device, error) {
	d, err := darwin.NewDevice()
	if err != nil {
		return nil, err
	}
	return d, nil
}
