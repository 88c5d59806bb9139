// Package mounts resolves a hotplugged partition to its mount point by
// watching the live system mount table.
package mounts

// Filesystem classifies the filesystem backing a mount entry.
type Filesystem string

const (
	FSFat32 Filesystem = "fat32"
	FSExfat Filesystem = "exfat"
	FSNtfs  Filesystem = "ntfs"
	FSExt   Filesystem = "ext"
	FSOther Filesystem = "other"
)

// Entry is one row of the live mount table, already filtered down to
// removable-bus mounts by the Table implementation.
type Entry struct {
	Device     string
	Path       string
	Filesystem Filesystem
}

// Table is a read-only view of the system mount table. Implementations
// must be safe to query repeatedly.
type Table interface {
	Mounts() ([]Entry, error)
}

// Record is a confirmed mount for a device. It is never cached across
// events; every resolution re-reads the table.
type Record struct {
	DeviceID   string
	Path       string
	Filesystem Filesystem
}
