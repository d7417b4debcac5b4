package usbredir

import "encoding/binary"

// Device identity constants, lifted verbatim from usb_cd_get_descriptor:
// a Red Hat-assigned VID and a fixed mass-storage class/subclass/protocol
// triple (SCSI transparent command set over bulk-only transport).
const (
	vendorID      = 0x2b23
	productID     = 0xcdcd
	usbBCD        = 0x0200
	deviceClass   = 0x08
	deviceSubclas = 0x06
	deviceProto   = 0x50

	bulkInEndpoint  = 0x81
	bulkOutEndpoint = 0x02
	maxPacketSize   = 512
)

const (
	descTypeDevice = 1
	descTypeConfig = 2
	descTypeString = 3
)

// deviceDescriptor builds the 18-byte USB device descriptor, matching
// usb_cd_get_descriptor's static libusb_device_descriptor literal
// field-for-field.
func deviceDescriptor() []byte {
	b := make([]byte, 18)
	b[0] = 18
	b[1] = descTypeDevice
	binary.LittleEndian.PutUint16(b[2:4], usbBCD)
	b[4] = 0 // class/subclass/protocol reported at the interface, not the device
	b[5] = 0
	b[6] = 0
	b[7] = 64 // bMaxPacketSize0
	binary.LittleEndian.PutUint16(b[8:10], vendorID)
	binary.LittleEndian.PutUint16(b[10:12], productID)
	binary.LittleEndian.PutUint16(b[12:14], 0x0100) // bcdDevice
	b[14] = 1                                       // iManufacturer
	b[15] = 2                                       // iProduct
	b[16] = 3                                       // iSerialNumber
	b[17] = 1                                       // bNumConfigurations
	return b
}

// configDescriptor builds the 32-byte configuration descriptor (config +
// one interface + two bulk endpoints), matching the cfg[] byte literal in
// usb_cd_get_descriptor.
func configDescriptor() []byte {
	b := []byte{
		9, descTypeConfig, 0x20, 0x00,
		1,    // bNumInterfaces
		1,    // bConfigurationValue
		0,    // iConfiguration
		0x80, // bus powered
		0x32, // 100mA

		9, 4, // interface descriptor
		0, 0, // bInterfaceNumber, bAlternateSetting
		2, // bNumEndpoints
		deviceClass, deviceSubclas, deviceProto,
		0, // iInterface

		7, 5, // endpoint descriptor: bulk IN
		bulkInEndpoint,
		0x02, // bulk transfer type
		byte(maxPacketSize & 0xFF), byte(maxPacketSize >> 8),
		0, // bInterval

		7, 5, // endpoint descriptor: bulk OUT
		bulkOutEndpoint,
		0x02,
		byte(maxPacketSize & 0xFF), byte(maxPacketSize >> 8),
		0,
	}
	return b
}

func stringDescriptor(codeUnits []uint16) []byte {
	b := make([]byte, 2*len(codeUnits))
	for i, u := range codeUnits {
		binary.LittleEndian.PutUint16(b[2*i:2*i+2], u)
	}
	b[0] = byte(len(b))
	b[1] = descTypeString
	return b
}

func langIDDescriptor() []byte {
	return stringDescriptor([]uint16{0, 0x0409})
}

func asciiStringDescriptor(s string) []byte {
	units := make([]uint16, len(s)+1)
	for i, c := range []byte(s) {
		units[i+1] = uint16(c)
	}
	return stringDescriptor(units)
}

// serialStringDescriptor builds the iSerialNumber=3 string descriptor
// from the 12-character serial, mirroring usb_cd_get_descriptor's
// `d->serial` slot: the descriptor header word plus one uint16 code
// unit per ASCII character.
func serialStringDescriptor(serial string) []byte {
	return asciiStringDescriptor(serial)
}

// addressSerial derives the 12-character USB serial-number string
// spec.md §3/§6 calls for from a synthetic bus address: two decimal
// digits for the address followed by ten zero-padding digits, mirroring
// usb_cd_create's "d->serial[1] = '0' + address / 10; d->serial[2] = '0'
// + address % 10" initialization (the remaining code units are left at
// their zero value by the struct's static initializer).
func addressSerial(address uint8) string {
	digits := [12]byte{}
	digits[0] = '0' + byte(address/10)
	digits[1] = '0' + byte(address%10)
	for i := 2; i < len(digits); i++ {
		digits[i] = '0'
	}
	return string(digits[:])
}

// descriptors bundles the fixed device/config/manufacturer/product
// descriptors plus the serial descriptor derived from this device's
// address, served by GET_DESCRIPTOR requests.
type descriptors struct {
	device       []byte
	config       []byte
	lang         []byte
	manufacturer []byte
	product      []byte
	serial       []byte
}

func newDescriptors(serial string) *descriptors {
	return &descriptors{
		device:       deviceDescriptor(),
		config:       configDescriptor(),
		lang:         langIDDescriptor(),
		manufacturer: asciiStringDescriptor("Red Hat"),
		product:      asciiStringDescriptor("SPICE CD"),
		serial:       serialStringDescriptor(serial),
	}
}

// get resolves a GET_DESCRIPTOR request by type/index, mirroring
// usb_cd_get_descriptor's switch.
func (d *descriptors) get(descType, index uint8) []byte {
	switch descType {
	case descTypeDevice:
		return d.device
	case descTypeConfig:
		return d.config
	case descTypeString:
		switch index {
		case 0:
			return d.lang
		case 1:
			return d.manufacturer
		case 2:
			return d.product
		case 3:
			return d.serial
		}
	}
	return nil
}
