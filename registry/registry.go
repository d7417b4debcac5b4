// Package registry allocates synthetic bus addresses for emulated CD/DVD
// devices and owns the one boundary the spec keeps out of scope for
// everything else: the hotplug/device_change callbacks a host uses to
// learn a device appeared, disappeared, or changed media. Grounded on
// usb-backend.c's own_devices_mask allocator
// (spice_usb_backend_create_emulated_device/spice_usb_backend_device_eject)
// and usb-device-cd.c's per-device serial/delete-on-eject bookkeeping,
// generalized away from a single process-wide mask (spec.md §9's design
// note) into a Registry instance any number of which could coexist.
package registry

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/coreos/go-usbcd/backingfile"
	"github.com/coreos/go-usbcd/cdscsi"
	"github.com/coreos/go-usbcd/msd"
)

// Address range for emulated devices on the synthetic bus; 0 and 1 are
// permanently reserved, mirroring own_devices_mask's initial value of 3.
const (
	minAddress = 2
	maxAddress = 31
)

// Handle identifies an emulated device by synthetic address plus a
// generation counter. A Handle captured before an eject/recreate cycle at
// the same address fails Registry.Get with errStaleHandle instead of
// silently resolving to the device that now lives there — the typed
// handle spec.md §9 asks for in place of the source's opaque priv_data
// pointer.
type Handle struct {
	Address    uint8
	Generation uint32
}

func (h Handle) String() string { return fmt.Sprintf("cd@%d#%d", h.Address, h.Generation) }

var (
	errNoFreeAddress = errors.New("registry: no free synthetic bus address")
	errStaleHandle   = errors.New("registry: stale device handle")
	errUnknownHandle = errors.New("registry: unknown device handle")
)

// Params configures one emulated CD/DVD-ROM device at creation time.
type Params struct {
	Path          string
	Vendor        string // defaults to "Red Hat"
	Product       string // defaults to "SPICE CD"
	Version       string // defaults to "0"
	ClaimVersion  uint32 // 0 leaves INQUIRY's VERSION byte "no version claimed"
	CDROM         bool   // false reports a DVD-ROM profile in GET_CONFIGURATION
	DeleteOnEject bool
}

const (
	defaultVendor  = "Red Hat"
	defaultProduct = "SPICE CD"
	defaultVersion = "0"
)

// Hotplug receives the device lifecycle events spec.md §6 names as
// externally supplied callbacks.
type Hotplug interface {
	OnHotplug(added bool, dev *Device)
	OnDeviceChange(dev *Device)
}

// Device is one registered emulated CD/DVD-ROM: its synthetic bus
// address, the MSD/SCSI stack serving it, and the backing stream
// attached to its single LU.
type Device struct {
	Handle Handle
	MSD    *msd.Device
	Serial string // 12-digit decimal INQUIRY serial, derived from address
	WWN    string // NAA-style page-0x83 identifier

	reg *Registry

	mu            sync.Mutex
	stream        *backingfile.Stream
	path          string
	deleteOnEject bool
	deleting      bool
	locked        bool
}

// Locked reports the media-removal lock the device was created with (set
// when DeleteOnEject is false). Guest ALLOW MEDIUM REMOVAL commands do not
// update it.
func (d *Device) Locked() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.locked
}

// Path returns the backing file path this device was created with.
func (d *Device) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.path
}

// takeDeletePending reports and clears whether this device's guest-issued
// eject should now trigger an actual registry teardown, mirroring
// cd_usb_bulk_msd_read_complete's "if (d->deleting) { ... eject }" check
// run immediately before a bulk-in response is handed back to the host —
// the usbredir adapter calls this right after flushing that response.
func (d *Device) takeDeletePending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	v := d.deleting
	d.deleting = false
	return v
}

func (d *Device) onLoadChange(_ uint32, loaded bool) {
	if !loaded && d.deleteOnEject {
		d.mu.Lock()
		d.deleting = true
		d.mu.Unlock()
		return
	}
	if d.reg.hotplug != nil {
		d.reg.hotplug.OnDeviceChange(d)
	}
}

// Registry allocates synthetic bus addresses [2..31] and owns the set of
// devices currently using one, replacing the source's global
// own_devices_mask with an instance any number of which could coexist.
type Registry struct {
	mu      sync.Mutex
	mask    uint32
	gen     [32]uint32
	devices map[uint8]*Device

	hotplug Hotplug
	log     *logrus.Logger

	// InstanceID is a per-process identifier logged at startup, replacing
	// the teacher's MD5-of-name GenerateSerial with a real random
	// generator (SPEC_FULL.md §1's ambient-stack decision).
	InstanceID uuid.UUID
}

// New builds a Registry with addresses 0 and 1 permanently reserved.
func New(hotplug Hotplug, log *logrus.Logger) *Registry {
	if log == nil {
		log = logrus.StandardLogger()
	}
	r := &Registry{
		mask:       (1 << minAddress) - 1,
		devices:    make(map[uint8]*Device),
		hotplug:    hotplug,
		log:        log,
		InstanceID: uuid.New(),
	}
	return r
}

func (r *Registry) allocAddressLocked() (uint8, error) {
	for a := minAddress; a <= maxAddress; a++ {
		if r.mask&(1<<uint(a)) == 0 {
			return uint8(a), nil
		}
	}
	return 0, errNoFreeAddress
}

// makeSerial derives the 12-digit decimal INQUIRY serial from a synthetic
// address, per spec.md §6's "serial is a 12-char ASCII zero-padded
// decimal".
func makeSerial(address uint8) string {
	return fmt.Sprintf("%012d", address)
}

// makeWWN derives a NAA-style device-identification string for INQUIRY
// VPD page 0x83 from the registry's instance id, mirroring the
// OUI+VendorID shape of the teacher's NaaWWN type (scsi_handler.go) but
// built from a random uuid instead of an MD5 digest of a volume name.
func makeWWN(instance uuid.UUID, address uint8) string {
	b := instance[:4]
	return fmt.Sprintf("naa.5%02x%02x%02x%02x%02x", b[0], b[1], b[2], b[3], address)
}

// CreateEmulatedCD opens params.Path as a backing stream, allocates a
// synthetic bus address, realizes and loads a one-LUN SCSI target behind
// a fresh msd.Device, and fires the hotplug sink's added event — mirroring
// spice_usb_backend_create_emulated_device + usb_cd_create + load_lun in
// sequence.
func (r *Registry) CreateEmulatedCD(params Params) (*Device, error) {
	stream, err := backingfile.Open(params.Path)
	if err != nil {
		return nil, errors.Wrap(err, "registry: open backing file")
	}

	r.mu.Lock()
	address, err := r.allocAddressLocked()
	if err != nil {
		r.mu.Unlock()
		stream.Close()
		return nil, err
	}
	r.mask |= 1 << uint(address)
	r.gen[address]++
	handle := Handle{Address: address, Generation: r.gen[address]}
	r.mu.Unlock()

	vendor := params.Vendor
	if vendor == "" {
		vendor = defaultVendor
	}
	product := params.Product
	if product == "" {
		product = defaultProduct
	}
	version := params.Version
	if version == "" {
		version = defaultVersion
	}

	target, err := cdscsi.NewTarget(1)
	if err != nil {
		r.freeAddress(address)
		stream.Close()
		return nil, errors.Wrap(err, "registry: new target")
	}
	d := &Device{
		Handle:        handle,
		MSD:           msd.NewDevice(target),
		Serial:        makeSerial(address),
		WWN:           makeWWN(r.InstanceID, address),
		reg:           r,
		stream:        stream,
		path:          params.Path,
		deleteOnEject: params.DeleteOnEject,
		locked:        !params.DeleteOnEject,
	}

	if err := d.MSD.Realize(0, vendor, product, version, d.Serial, params.ClaimVersion); err != nil {
		r.freeAddress(address)
		stream.Close()
		return nil, errors.Wrap(err, "registry: realize lu")
	}

	lu := target.LU(0)
	lu.CDROM = params.CDROM
	lu.WWN = d.WWN
	lu.OnLoadChange = d.onLoadChange
	lu.PreventMediaRemoval = !params.DeleteOnEject

	blockSize := stream.BlockSize()
	if err := lu.Load(stream, uint64(stream.Size()), blockSize); err != nil {
		r.freeAddress(address)
		stream.Close()
		return nil, errors.Wrap(err, "registry: load lu")
	}

	r.mu.Lock()
	r.devices[address] = d
	r.mu.Unlock()

	if r.hotplug != nil {
		r.hotplug.OnHotplug(true, d)
	}
	return d, nil
}

func (r *Registry) freeAddress(address uint8) {
	r.mu.Lock()
	r.mask &^= 1 << uint(address)
	delete(r.devices, address)
	r.mu.Unlock()
}

// Get resolves a handle to its Device, rejecting a stale generation.
func (r *Registry) Get(h Handle) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[h.Address]
	if !ok {
		return nil, errUnknownHandle
	}
	if d.Handle.Generation != h.Generation {
		return nil, errStaleHandle
	}
	return d, nil
}

// Eject tears a device down: clears its address bit and fires the
// hotplug sink's removed event, mirroring spice_usb_backend_device_eject.
// Safe to call for a device whose guest already ejected its own tray;
// Eject is the registry-level "destroy the device" action, distinct from
// the SCSI-level "open the tray" action START_STOP_UNIT performs.
func (r *Registry) Eject(h Handle) error {
	d, err := r.Get(h)
	if err != nil {
		return err
	}

	d.mu.Lock()
	stream := d.stream
	d.stream = nil
	d.mu.Unlock()
	if stream != nil {
		stream.Close()
	}

	r.freeAddress(h.Address)
	if r.hotplug != nil {
		r.hotplug.OnHotplug(false, d)
	}
	return nil
}

// PollDeleteOnEject is called by the usbredir adapter immediately after
// flushing a bulk-in response for dev, mirroring
// cd_usb_bulk_msd_read_complete's "if (d->deleting) { eject }" check: a
// guest-issued SCSI eject on a delete-on-eject device only tears the
// registry entry down once the response to that very eject command has
// gone out, avoiding a send on an already-destroyed device.
func (r *Registry) PollDeleteOnEject(d *Device) {
	if d.takeDeletePending() {
		r.Eject(d.Handle)
	}
}
