package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

// Flags
var quiet bool
var listDevs bool
var watchMode bool
var configFile string

const usageText = `Usage: %s [options]

React to removable-storage hotplug events and keep a per-user desktop
launcher entry synchronized with the portable application on the
attached volume. Primarily run as a background daemon, with other
options available to help configure it. Configuration file defaults to
the standard XDG location (usually ~/.config/usb-appsync/config.toml).

Options:

`

func flagParse() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, usageText, filepath.Base(os.Args[0]))
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "  -h    Help\n")
		os.Exit(1)
	}
	flag.StringVar(&configFile, "c", "", "Use `configfile` for your config")
	flag.BoolVar(&listDevs, "l", false, "List removable block devices connected")
	flag.BoolVar(&watchMode, "w", false,
		"Watch and write device events to STDOUT")
	flag.BoolVar(&quiet, "q", false, "Quiet console log output")
	flag.Parse()
}
