// Package blob selects and re-exports the blob store used for exports.
package blob

import (
	"context"
	"fmt"
	"path/filepath"

	"spectrocal/internal/blob/core"
	fsstore "spectrocal/internal/infra/blob/fs"
	memorystore "spectrocal/internal/infra/blob/memory"
	infraS3 "spectrocal/internal/infra/blob/s3"
	"spectrocal/internal/infra/usb"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// SignedURLOptions configures URL pre-signing.
	SignedURLOptions = core.SignedURLOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
	// S3Config configures the s3 driver.
	S3Config = infraS3.Config
)

const (
	DriverFilesystem = core.DriverFilesystem
	DriverS3         = core.DriverS3
	DriverMemory     = core.DriverMemory
	DriverUSB        = core.DriverUSB
)

var (
	ErrUnsupported = core.ErrUnsupported
	ErrExists      = core.ErrExists
	ErrNotFound    = core.ErrNotFound
)

// USBConfig locates the removable drive for the usb driver.
type USBConfig struct {
	MountsFile string `yaml:"mounts_file" json:"mounts_file"`
	MediaDir   string `yaml:"media_dir" json:"media_dir"`
	// Subdir is created on the drive to hold exports; empty writes to its root.
	Subdir string `yaml:"subdir" json:"subdir"`
}

// Config selects and configures a driver.
type Config struct {
	Driver Driver    `yaml:"driver" json:"driver"`
	Root   string    `yaml:"root" json:"root"`
	USB    USBConfig `yaml:"usb" json:"usb"`
	S3     S3Config  `yaml:"s3" json:"s3"`
}

// Open constructs the store named by cfg.Driver (default fs).
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch cfg.Driver {
	case "", DriverFilesystem:
		return NewFilesystem(cfg.Root)
	case DriverUSB:
		return NewUSB(cfg.USB)
	case DriverS3:
		return infraS3.New(ctx, cfg.S3)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewFilesystem constructs a filesystem-backed store rooted at root.
func NewFilesystem(root string) (Store, error) {
	return fsstore.New(root)
}

// NewUSB constructs a filesystem store on the first mounted removable drive.
// It fails with usb.ErrNoRemovableMedia when none is present.
func NewUSB(cfg USBConfig) (Store, error) {
	m, err := usb.Locate(cfg.MountsFile, cfg.MediaDir)
	if err != nil {
		return nil, err
	}
	return fsstore.NewWithDriver(filepath.Join(m.Path, cfg.Subdir), DriverUSB)
}

// NewMemory returns an in-memory store.
func NewMemory() Store { return memorystore.New() }
