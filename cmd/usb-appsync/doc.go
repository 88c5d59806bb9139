/*
The usb-appsync daemon reacts to removable-storage hotplug events and
keeps a desktop launcher entry pointed at the portable application on
the attached volume, for the graphical user logged into the physical
seat. Designed to run in the background on a Linux system.

Plug in a prepared USB drive and the daemon waits for the partition to
show up mounted, finds the single launchable bundle on it, works out
which logged-in user should get the launcher, and writes a .desktop
entry into that user's applications directory. Unplug the drive and the
entry is removed again.

It searches for a TOML formatted config file passed on the command line
or in..

	$XDG_CONFIG_HOME/usb-appsync/config.toml

See the example-config.toml for the config file structure. All settings
have defaults, so the daemon runs without a config file at all.

To see what udev reports for your drive while writing a config, run in
watch mode and plug it in:

	usb-appsync -w
	(plug in drive)

NOTE: By default XDG_CONFIG_HOME is set to ~/.config on most Linux
systems.

NOTE: Udev can deliver events at odd times (container runtimes trigger
some). Entry creation and removal are idempotent, so replayed events
are harmless.
*/
package main
