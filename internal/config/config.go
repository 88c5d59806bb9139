package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/BurntSushi/xdg"
)

// Duration wraps time.Duration so it can be written as "1s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for toml decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// EntryName/EntryComment/EntryIcon fill the matching desktop entry fields
// EntryFile is the launcher file name written under the user's applications dir
// AppExtension is the file extension identifying a launchable bundle
// ScanDepth is how many directory levels below the mount root are searched;
// the minimum of 1 searches only files directly in the mount root
// PollInterval/PollAttempts bound the wait for a partition to appear mounted
// Subsystems are the udev subsystems the monitor filters on
type Config struct {
	EntryName    string
	EntryComment string
	EntryIcon    string
	EntryFile    string
	AppExtension string
	ScanDepth    int
	PollInterval Duration
	PollAttempts int
	Subsystems   []string
}

// Default returns a Config populated with the stock settings.
func Default() *Config {
	return &Config{
		EntryName:    "Portable App",
		EntryComment: "Launch the application on the attached USB drive",
		EntryIcon:    "drive-removable-media",
		EntryFile:    "usb-app.desktop",
		AppExtension: ".AppImage",
		ScanDepth:    2,
		PollInterval: Duration{time.Second},
		PollAttempts: 10,
		Subsystems:   []string{"block"},
	}
}

// Path returns the XDG location of the config file, honoring the
// UsbAppSyncConfig environment variable as an override.
func Path() (string, error) {
	paths := xdg.Paths{
		Override:  os.Getenv("UsbAppSyncConfig"),
		XDGSuffix: "usb-appsync",
	}
	path, err := paths.ConfigFile("config.toml")
	if err != nil {
		return "", fmt.Errorf("locate config file: %w", err)
	}
	return path, nil
}

// Load reads and validates a config file. Fields left unset in the file
// keep their defaults.
func Load(path string) (*Config, error) {
	bs, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	conf := Default()
	if _, err := toml.Decode(string(bs), conf); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) validate() error {
	if c.PollAttempts < 1 {
		return errors.New("PollAttempts must be at least 1")
	}
	if c.PollInterval.Duration <= 0 {
		return errors.New("PollInterval must be positive")
	}
	if c.ScanDepth < 1 {
		return errors.New("ScanDepth must be at least 1")
	}
	if c.AppExtension == "" {
		return errors.New("AppExtension cannot be empty")
	}
	if c.EntryFile == "" {
		return errors.New("EntryFile cannot be empty")
	}
	return nil
}
