// test-scan is a manual tool that scans for BLE peripherals and prints
// what it finds, to check the adapter backend outside the session engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/chaz8081/gattprobe/internal/ble"
)

func main() {
	backend := flag.String("backend", ble.BackendHCI, "adapter backend: hci or tinygo")
	adapterID := flag.Int("adapter", 0, "HCI device id (hci backend)")
	timeout := flag.Duration("timeout", 5*time.Second, "scan duration")
	flag.Parse()

	adapter, err := ble.NewAdapter(*backend, *adapterID, 0)
	if err != nil {
		log.Fatalf("adapter: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("Scanning for %s with the %s backend...\n", *timeout, *backend)
	devices, err := ble.ScanForDevices(ctx, adapter, *timeout)
	if err != nil {
		log.Fatalf("scan: %v", err)
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return
	}
	for i, d := range devices {
		fmt.Printf("[%d] %-24s %s rssi=%d\n", i, d.DisplayName(), d.Address, d.RSSI)
	}
}
