package mounts

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Filesystem types that never back removable storage.
var systemFSTypes = map[string]bool{
	"sysfs": true, "proc": true, "devtmpfs": true, "devpts": true,
	"tmpfs": true, "cgroup": true, "cgroup2": true, "pstore": true,
	"bpf": true, "configfs": true, "selinuxfs": true, "debugfs": true,
	"tracefs": true, "fusectl": true, "fuse.portal": true, "mqueue": true,
	"hugetlbfs": true, "autofs": true, "efivarfs": true,
	"binfmt_misc": true, "overlay": true, "squashfs": true,
}

// Mount roots used for removable media on desktop Linux systems.
var removableRoots = []string{"/media/", "/run/media/", "/mnt/"}

// ProcTable reads the live mount table from /proc/mounts.
type ProcTable struct {
	path string
}

func NewProcTable() *ProcTable {
	return &ProcTable{path: "/proc/mounts"}
}

func (t *ProcTable) Mounts() ([]Entry, error) {
	f, err := os.Open(t.path)
	if err != nil {
		return nil, fmt.Errorf("open mount table: %w", err)
	}
	defer f.Close()
	return parseMounts(f)
}

// parseMounts keeps only rows that look like removable-bus mounts: a
// real block device mounted under one of the removable media roots on a
// non-system filesystem.
func parseMounts(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 3 {
			continue
		}
		device, path, fstype := fields[0], fields[1], fields[2]
		if systemFSTypes[fstype] {
			continue
		}
		if !strings.HasPrefix(device, "/dev/") {
			continue
		}
		if !underRemovableRoot(path) {
			continue
		}
		entries = append(entries, Entry{
			Device:     device,
			Path:       unescapeMountPath(path),
			Filesystem: classify(fstype),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read mount table: %w", err)
	}
	return entries, nil
}

func underRemovableRoot(path string) bool {
	for _, root := range removableRoots {
		if strings.HasPrefix(path, root) {
			return true
		}
	}
	return false
}

func classify(fstype string) Filesystem {
	switch {
	case fstype == "vfat" || fstype == "msdos" || fstype == "fat32":
		return FSFat32
	case fstype == "exfat":
		return FSExfat
	case strings.HasPrefix(fstype, "ntfs"):
		return FSNtfs
	case strings.HasPrefix(fstype, "ext"):
		return FSExt
	default:
		return FSOther
	}
}

// /proc/mounts octal-escapes spaces and a few other characters in paths.
func unescapeMountPath(path string) string {
	replacer := strings.NewReplacer(
		`\040`, " ",
		`\011`, "\t",
		`\012`, "\n",
		`\134`, `\`,
	)
	return replacer.Replace(path)
}
