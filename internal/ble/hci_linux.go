//go:build linux

package ble

import (
	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
)

func newHCIDevice(id int) (goble.Device, error) {
	d, err := linux.NewDevice(goble.OptDeviceID(id))
	if err != nil {
		return nil, err
	}
	return d, nil
}
