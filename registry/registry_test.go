package registry

import (
	"os"
	"testing"
)

type fakeHotplug struct {
	added   []bool
	changed []*Device
}

func (f *fakeHotplug) OnHotplug(added bool, dev *Device) { f.added = append(f.added, added) }
func (f *fakeHotplug) OnDeviceChange(dev *Device)        { f.changed = append(f.changed, dev) }

func tempISO(t *testing.T, size int64) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "iso")
	if err != nil {
		t.Fatalf("unexpected TempFile error: %v", err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		t.Fatalf("unexpected Truncate error: %v", err)
	}
	return f.Name()
}

func TestCreateEmulatedCDAllocatesAddress(t *testing.T) {
	hp := &fakeHotplug{}
	r := New(hp, nil)

	path := tempISO(t, 2048*8)
	dev, err := r.CreateEmulatedCD(Params{Path: path})
	if err != nil {
		t.Fatalf("unexpected CreateEmulatedCD error: %v", err)
	}
	if dev.Handle.Address != minAddress {
		t.Fatalf("unexpected first address: got %d, want %d", dev.Handle.Address, minAddress)
	}
	if dev.Serial != "000000000002" {
		t.Fatalf("unexpected serial: got %q", dev.Serial)
	}
	if len(hp.added) != 1 || !hp.added[0] {
		t.Fatalf("expected one added=true hotplug event, got %v", hp.added)
	}

	dev2, err := r.CreateEmulatedCD(Params{Path: path})
	if err != nil {
		t.Fatalf("unexpected second CreateEmulatedCD error: %v", err)
	}
	if dev2.Handle.Address != minAddress+1 {
		t.Fatalf("unexpected second address: got %d, want %d", dev2.Handle.Address, minAddress+1)
	}
}

func TestEjectFreesAddressForReuse(t *testing.T) {
	hp := &fakeHotplug{}
	r := New(hp, nil)
	path := tempISO(t, 2048*8)

	dev, err := r.CreateEmulatedCD(Params{Path: path})
	if err != nil {
		t.Fatalf("unexpected CreateEmulatedCD error: %v", err)
	}
	if err := r.Eject(dev.Handle); err != nil {
		t.Fatalf("unexpected Eject error: %v", err)
	}
	if _, err := r.Get(dev.Handle); err == nil {
		t.Fatal("expected Get to fail for an ejected handle")
	}

	dev2, err := r.CreateEmulatedCD(Params{Path: path})
	if err != nil {
		t.Fatalf("unexpected re-create error: %v", err)
	}
	if dev2.Handle.Address != dev.Handle.Address {
		t.Fatalf("expected freed address to be reused: got %d, want %d", dev2.Handle.Address, dev.Handle.Address)
	}
	if dev2.Handle.Generation == dev.Handle.Generation {
		t.Fatal("expected generation to advance on reuse")
	}
}

func TestStaleHandleRejected(t *testing.T) {
	hp := &fakeHotplug{}
	r := New(hp, nil)
	path := tempISO(t, 2048*8)

	dev, err := r.CreateEmulatedCD(Params{Path: path})
	if err != nil {
		t.Fatalf("unexpected CreateEmulatedCD error: %v", err)
	}
	stale := Handle{Address: dev.Handle.Address, Generation: dev.Handle.Generation + 1}
	if _, err := r.Get(stale); err != errStaleHandle {
		t.Fatalf("expected errStaleHandle, got: %v", err)
	}
}

func TestDeleteOnEjectDefersUntilPolled(t *testing.T) {
	hp := &fakeHotplug{}
	r := New(hp, nil)
	path := tempISO(t, 2048*8)

	dev, err := r.CreateEmulatedCD(Params{Path: path, DeleteOnEject: true})
	if err != nil {
		t.Fatalf("unexpected CreateEmulatedCD error: %v", err)
	}

	// Simulate a guest-issued SCSI eject: the LU flips Loaded to false,
	// which arms the deferred-delete flag instead of tearing the device
	// down immediately.
	dev.onLoadChange(0, false)
	if _, err := r.Get(dev.Handle); err != nil {
		t.Fatalf("expected device to still be registered before poll, got: %v", err)
	}

	r.PollDeleteOnEject(dev)
	if _, err := r.Get(dev.Handle); err == nil {
		t.Fatal("expected device to be torn down after PollDeleteOnEject")
	}
	if len(hp.added) != 2 || hp.added[1] != false {
		t.Fatalf("expected a second added=false hotplug event, got %v", hp.added)
	}
}
