package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/jochenvg/go-udev"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/eikenb/usb-appsync/internal/config"
	"github.com/eikenb/usb-appsync/internal/desktop"
	"github.com/eikenb/usb-appsync/internal/hotplug"
	"github.com/eikenb/usb-appsync/internal/locate"
	"github.com/eikenb/usb-appsync/internal/mounts"
	"github.com/eikenb/usb-appsync/internal/session"
)

func main() {
	flagParse()
	initLogging()

	conf, err := getConfig(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	switch {
	case listDevs:
		err = displayDeviceList(conf)
	case watchMode:
		err = watchEvents(conf)
	default:
		err = run(conf)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("usb-appsync failed")
	}
}

func initLogging() {
	writers := []io.Writer{&lumberjack.Logger{
		Filename:   filepath.Join(os.TempDir(), "usb-appsync.log"),
		MaxSize:    1,
		MaxBackups: 2,
	}}
	if !quiet {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.Kitchen,
		})
	}
	log.Logger = log.Output(io.MultiWriter(writers...)).With().Timestamp().Logger()
}

func getConfig(path string) (*config.Config, error) {
	if path == "" {
		found, err := config.Path()
		if err != nil {
			// No config file anywhere is fine, run on defaults.
			log.Debug().Err(err).Msg("no config file found, using defaults")
			return config.Default(), nil
		}
		path = found
	}
	return config.Load(path)
}

// run is the daemon loop: udev events in, coordinator handlers out.
func run(conf *config.Config) error {
	coord := hotplug.New(
		mounts.NewResolver(mounts.NewProcTable(), clockwork.NewRealClock(),
			conf.PollInterval.Duration, conf.PollAttempts),
		locate.New(conf.AppExtension, conf.ScanDepth),
		session.NewResolver(
			session.NewLogindProvider(),
			session.NewWhoProvider(),
			session.ProcessProvider{},
		),
		desktop.NewSynchronizer(afero.NewOsFs(), desktop.Options{
			Name:     conf.EntryName,
			Comment:  conf.EntryComment,
			Icon:     conf.EntryIcon,
			FileName: conf.EntryFile,
		}),
	)
	defer coord.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	devchan, err := deviceChan(ctx, conf.Subsystems)
	if err != nil {
		return err
	}
	log.Info().Strs("subsystems", conf.Subsystems).Msg("usb-appsync started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		select {
		case <-sighalt():
			log.Info().Msg("signal received, shutting down")
			cancel()
		case <-gctx.Done():
		}
		return nil
	})
	g.Go(func() error {
		for d := range devchan {
			ev, ok := translate(d)
			if !ok {
				continue
			}
			coord.Handle(gctx, ev)
		}
		return nil
	})
	return g.Wait()
}

// abstract the *udev.Device type so tests can create fake entries
type device interface {
	Syspath() string
	Action() string
	Devnode() string
	Properties() map[string]string
	PropertyValue(string) string
}

// deviceChan returns the stream of udev events, closed when ctx is
// cancelled.
func deviceChan(ctx context.Context, subsystems []string) (<-chan device, error) {
	u := udev.Udev{}
	m := u.NewMonitorFromNetlink("udev")

	for _, sub := range subsystems {
		m.FilterAddMatchSubsystem(sub)
	}

	done := make(chan struct{})
	ch, err := m.DeviceChan(done)
	if err != nil {
		return nil, fmt.Errorf("udev monitor: %w", err)
	}

	devchan := make(chan device)
	go func() {
		<-ctx.Done()
		close(done)
	}()
	go func() {
		for d := range ch {
			devchan <- d
		}
		close(devchan)
	}()
	return devchan, nil
}

// translate maps a udev block event onto a hotplug event. Only
// partitions on a removable bus are of interest.
func translate(d device) (hotplug.Event, bool) {
	if d.PropertyValue("DEVTYPE") != "partition" {
		return hotplug.Event{}, false
	}
	if d.PropertyValue("ID_BUS") != "usb" {
		return hotplug.Event{}, false
	}
	var kind hotplug.Kind
	switch d.Action() {
	case "add":
		kind = hotplug.Add
	case "remove":
		kind = hotplug.Remove
	default:
		return hotplug.Event{}, false
	}
	return hotplug.Event{Kind: kind, DeviceID: deviceID(d)}, true
}

// deviceID prefers the most stable identifier available: filesystem
// UUID, then device serial, then the device node.
func deviceID(d device) string {
	if uuid := d.PropertyValue("ID_FS_UUID"); uuid != "" {
		return uuid
	}
	if serial := d.PropertyValue("ID_SERIAL"); serial != "" {
		return serial
	}
	if node := d.Devnode(); node != "" {
		return node
	}
	return d.Syspath()
}

// watch for signals to quit
func sighalt() <-chan os.Signal {
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGQUIT, syscall.SIGTERM)
	return interrupts
}
