package blob

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"spectrocal/internal/infra/usb"
)

func TestOpenDrivers(t *testing.T) {
	ctx := context.Background()
	fsStore, err := Open(ctx, Config{Root: t.TempDir()})
	if err != nil || fsStore.Driver() != DriverFilesystem {
		t.Fatalf("default driver: %v %v", fsStore, err)
	}
	mem, err := Open(ctx, Config{Driver: DriverMemory})
	if err != nil || mem.Driver() != DriverMemory {
		t.Fatalf("memory driver: %v %v", mem, err)
	}
	if _, err := Open(ctx, Config{Driver: "floppy"}); err == nil {
		t.Fatalf("expected unknown driver error")
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatalf("expected missing bucket error")
	}
}

func TestOpenUSBUsesRemovableMount(t *testing.T) {
	ctx := context.Background()
	mountPoint := filepath.Join(t.TempDir(), "media", "stick")
	if err := os.MkdirAll(mountPoint, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mounts := filepath.Join(t.TempDir(), "mounts")
	table := "/dev/root / ext4 rw 0 0\n/dev/sda1 " + mountPoint + " vfat rw 0 0\n"
	if err := os.WriteFile(mounts, []byte(table), 0o600); err != nil {
		t.Fatalf("write mounts: %v", err)
	}
	store, err := Open(ctx, Config{Driver: DriverUSB, USB: USBConfig{MountsFile: mounts, Subdir: "spectro"}})
	if err != nil {
		t.Fatalf("open usb: %v", err)
	}
	if store.Driver() != DriverUSB {
		t.Fatalf("driver = %s", store.Driver())
	}
	if _, err := store.Put(ctx, "run.csv", strings.NewReader("x\n"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, err := os.Stat(filepath.Join(mountPoint, "spectro", "run.csv")); err != nil {
		t.Fatalf("export not written to drive: %v", err)
	}
	if _, err := store.Put(ctx, "run.csv", strings.NewReader("y\n"), PutOptions{}); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
}

func TestOpenUSBWithoutMedia(t *testing.T) {
	mounts := filepath.Join(t.TempDir(), "mounts")
	if err := os.WriteFile(mounts, []byte("/dev/root / ext4 rw 0 0\n"), 0o600); err != nil {
		t.Fatalf("write mounts: %v", err)
	}
	if _, err := NewUSB(USBConfig{MountsFile: mounts}); !errors.Is(err, usb.ErrNoRemovableMedia) {
		t.Fatalf("expected ErrNoRemovableMedia, got %v", err)
	}
}
