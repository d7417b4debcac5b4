package usbredir

import "github.com/pkg/errors"

var (
	errShortHeader    = errors.New("usbredir: packet shorter than its header")
	errShortPacket    = errors.New("usbredir: packet body shorter than its declared length")
	errUnknownCancel  = errors.New("usbredir: cancel_data_packet for unknown pending read")
	errDeviceRejected = errors.New("usbredir: peer rejected the emulated device")
	errDeviceFiltered = errors.New("usbredir: peer filter denies the emulated device")
)
