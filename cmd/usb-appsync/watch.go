package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jochenvg/go-udev"

	"github.com/eikenb/usb-appsync/internal/config"
)

// display the list of connected removable block devices
func displayDeviceList(conf *config.Config) error {
	u := udev.Udev{}
	e := u.NewEnumerate()

	for _, sub := range conf.Subsystems {
		e.AddMatchSubsystem(sub)
	}
	e.AddMatchIsInitialized()

	devices, err := e.Devices()
	if err != nil {
		return fmt.Errorf("enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.PropertyValue("ID_BUS") != "usb" {
			continue
		}
		fmt.Println(devString(device(d)))
	}
	return nil
}

// watch udev events and dump their properties to stdout, for writing
// config rules
func watchEvents(conf *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-sighalt()
		cancel()
	}()

	devchan, err := deviceChan(ctx, conf.Subsystems)
	if err != nil {
		return err
	}
	for d := range devchan {
		fmt.Println(devString(d))
	}
	return nil
}

// returns a device's identity and properties as a readable block
func devString(dev device) string {
	name := dev.PropertyValue("ID_FS_LABEL")
	if name == "" {
		name = dev.Devnode()
	}
	if name == "" {
		name = dev.Syspath()
	}

	properties := dev.Properties()
	orderedKeys := make([]string, 0, len(properties))
	result := make([]string, 0, len(properties)+2)

	result = append(result,
		fmt.Sprintf("\n%s\n%s\n", name, strings.Repeat("-", len(name))))
	for k := range properties {
		orderedKeys = append(orderedKeys, k)
	}
	sort.Strings(orderedKeys)
	for _, k := range orderedKeys {
		result = append(result,
			fmt.Sprintf("- %s = \"%s\"\n", k, strings.TrimSpace(properties[k])))
	}
	return strings.Join(result, "")
}
