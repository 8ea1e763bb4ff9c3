// Package usb finds a mounted removable drive to export onto.
package usb

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// DefaultMountsFile is the kernel mount table on Linux.
const DefaultMountsFile = "/proc/mounts"

// ErrNoRemovableMedia is returned when no removable drive is mounted.
var ErrNoRemovableMedia = errors.New("usb: no removable media mounted")

// Mount is one entry of the mount table.
type Mount struct {
	Device string
	Path   string
	FSType string
}

// ParseMounts reads a /proc/mounts style table. Octal escapes such as \040
// in paths are decoded.
func ParseMounts(r io.Reader) ([]Mount, error) {
	var out []Mount
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 3 {
			continue
		}
		out = append(out, Mount{Device: fields[0], Path: unescape(fields[1]), FSType: fields[2]})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read mounts: %w", err)
	}
	return out, nil
}

// FindRemovable returns the first SCSI disk (/dev/sd*) mounted somewhere
// under a path containing mediaDir.
func FindRemovable(mounts []Mount, mediaDir string) (Mount, error) {
	if mediaDir == "" {
		mediaDir = "media"
	}
	for _, m := range mounts {
		if strings.HasPrefix(m.Device, "/dev/sd") && strings.Contains(m.Path, mediaDir) {
			return m, nil
		}
	}
	return Mount{}, ErrNoRemovableMedia
}

// Locate reads mountsFile and returns the first removable mount.
func Locate(mountsFile, mediaDir string) (Mount, error) {
	if mountsFile == "" {
		mountsFile = DefaultMountsFile
	}
	f, err := os.Open(mountsFile)
	if err != nil {
		return Mount{}, fmt.Errorf("open %s: %w", mountsFile, err)
	}
	defer func() { _ = f.Close() }()
	mounts, err := ParseMounts(f)
	if err != nil {
		return Mount{}, err
	}
	return FindRemovable(mounts, mediaDir)
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
