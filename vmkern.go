// Package vmkern is the root orchestration package: one-time subsystem
// init plus the shared size constants every other package re-exports from
// mem. Callers normally use procvm.AddressSpace directly; this package
// exists so a host kernel simulation has one place to wire the system-
// wide frame table and swap device before creating any per-process
// AddressSpace.
package vmkern

import (
	"vmkern/blockdev"
	"vmkern/frame"
	"vmkern/mem"
	"vmkern/palloc"
	"vmkern/swap"
)

// PageSize, SectorSize, and SectorsPerSlot re-export the shared
// constants every package imports from mem, so a caller wiring up the
// subsystem does not need to import mem directly just to size a swap
// device.
const (
	PageSize       = mem.PageSize
	SectorSize     = mem.SectorSize
	SectorsPerSlot = mem.SectorsPerSlot
)

// Config configures the one-time subsystem init, following the
// functional-options idiom rather than a file-based configuration
// library: init happens before any filesystem is mounted, so there is no
// file to load options from.
type Config struct {
	nframes    int
	swapSlots  int64
	disk       blockdev.Disk
	frameFatal func(reason string)
}

// Option configures a Config.
type Option func(*Config)

// WithFrameCount sets the number of physical frames the simulated pool
// provides.
func WithFrameCount(n int) Option {
	return func(c *Config) { c.nframes = n }
}

// WithSwapSlots sets the number of swap slots an in-memory swap device
// should provide, when no explicit disk is supplied via WithDisk.
func WithSwapSlots(n int64) Option {
	return func(c *Config) { c.swapSlots = n }
}

// WithDisk supplies an explicit swap block device instead of the default
// in-memory one.
func WithDisk(d blockdev.Disk) Option {
	return func(c *Config) { c.disk = d }
}

// WithFrameFatalHook overrides the frame table's fatal-condition hook,
// which otherwise panics on an unrecoverable out-of-frames condition.
func WithFrameFatalHook(fn func(reason string)) Option {
	return func(c *Config) { c.frameFatal = fn }
}

// System bundles the process-independent, system-wide resources every
// AddressSpace is built on top of.
type System struct {
	Frames *frame.Table
	Swap   *swap.Allocator
}

// Init performs one-time subsystem initialization: constructing the
// simulated physical frame pool, the global frame table, and the swap
// device/allocator, mirroring the role biscuit's own kernel-init sequence
// plays for mem.Physmem before any process address space exists.
func Init(opts ...Option) *System {
	cfg := &Config{nframes: 256, swapSlots: 1024}
	for _, opt := range opts {
		opt(cfg)
	}

	pool := palloc.NewSimPool(cfg.nframes)
	frames := frame.NewTable(pool)
	if cfg.frameFatal != nil {
		frames.OnFatal = cfg.frameFatal
	}

	disk := cfg.disk
	if disk == nil {
		disk = blockdev.NewMemDisk(cfg.swapSlots * mem.SectorsPerSlot)
	}
	sw := swap.New(disk)

	return &System{Frames: frames, Swap: sw}
}
