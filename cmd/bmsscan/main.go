package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"tinygo.org/x/bluetooth"

	"github.com/homefleet/bmsble/pkg/bms"
	"github.com/homefleet/bmsble/pkg/registry"

	_ "github.com/homefleet/bmsble/pkg/drivers/sim"
)

var adapter = bluetooth.DefaultAdapter

func main() {
	duration := flag.Duration("duration", 30*time.Second, "How long to scan")
	all := flag.Bool("all", false, "Print unsupported devices too")
	flag.Parse()

	must("enable adapter", adapter.Enable())

	fmt.Printf("Scanning for %v (drivers: %v)...\n", *duration, registry.Names())
	time.AfterFunc(*duration, func() {
		if err := adapter.StopScan(); err != nil {
			log.Println("error stopping scan:", err)
		}
	})

	seen := map[string]struct{}{}
	err := adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		adv := bms.AdvertisementFromScan(result)
		if _, ok := seen[adv.Address]; ok {
			return
		}
		seen[adv.Address] = struct{}{}

		drv, ok := registry.Match(adv)
		if !ok {
			if *all {
				fmt.Printf("%s %-24q RSSI=%-4d unsupported\n", adv.Address, adv.LocalName, adv.RSSI)
			}
			return
		}
		fmt.Printf("%s %-24q RSSI=%-4d driver=%s (%s)\n",
			adv.Address, adv.LocalName, adv.RSSI, drv.Name, drv.Info.DeviceID())
	})
	must("scan", err)
}

func must(action string, err error) {
	if err != nil {
		log.Fatalf("Failed to %s: %s", action, err)
	}
}
