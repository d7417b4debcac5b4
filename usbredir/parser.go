package usbredir

import (
	"encoding/binary"
	"io"
	"sync"

	log "github.com/prometheus/common/log"

	"github.com/coreos/go-usbcd/msd"
	"github.com/coreos/go-usbcd/registry"
)

// maxBulkInRequests bounds the pending bulk-in ring, mirroring
// MAX_BULK_IN_REQUESTS/struct BufferedBulkRead read_bulk[].
const maxBulkInRequests = 64

const (
	reqTypeStandard  = 0x00
	reqTypeClass     = 0x20
	reqTypeRecipMask = 0x1f
	reqRecipEndpoint = 0x02
	reqRecipIface    = 0x01

	classReqReset     = 0xff
	classReqGetMaxLUN = 0xfe
	stdReqGetDescrip  = 0x06
)

// ChannelState tracks which backend owns this channel: INITIALIZING
// until Attach announces the emulated device, PARSER while the emulated
// device path is wired in. HOST is where a usbredirhost fronting a real passed-through
// device would sit; this module never enters it on its own, but a
// disconnect-ack from the peer lands there so an embedding application
// carrying both paths can take over.
type ChannelState int

const (
	ChannelInitializing ChannelState = iota
	ChannelHost
	ChannelParser
)

// pendingRead is one outstanding bulk-in request, grounded on
// struct BufferedBulkRead: the usbredir header the host is waiting on,
// paired with the packet id it must be answered with.
type pendingRead struct {
	id   uint64
	hout bulkPacketHeader
}

// Channel drives the usbredir wire protocol for a single emulated
// device: it parses incoming packets, dispatches control/bulk requests
// into the device's msd.Device, and re-splits msd.Device's single
// OnBulkIn completion across however many bulk-in requests the host has
// queued — mirroring cd_usb_bulk_msd_read_complete's per-entry loop,
// which usb-device-cd.c keeps in the device itself but this module keeps
// at the wire-adapter layer since msd.Device already commits to a single
// running accumulator (see msd/device.go's bulkInLen).
type Channel struct {
	mu sync.Mutex

	dev         *registry.Device
	reg         *registry.Registry
	desc        *descriptors
	maxLunIndex uint8

	w   io.Writer
	log log.Logger

	state             ChannelState
	peerCaps          []uint32
	rules             []FilterRule
	rejected          bool
	waitDisconnectAck bool

	pending []pendingRead
}

// NewChannel builds a Channel fronting dev, with its USB descriptors
// keyed off dev's synthetic bus address. reg is the registry dev was
// created from, consulted after every bulk-in completion to service a
// delete-on-eject teardown (see onBulkInComplete).
func NewChannel(reg *registry.Registry, dev *registry.Device, w io.Writer) *Channel {
	c := &Channel{
		dev:  dev,
		reg:  reg,
		desc: newDescriptors(addressSerial(dev.Handle.Address)),
		w:    w,
		log:  log.Base(),
	}
	if n := dev.MSD.NumLuns(); n > 0 {
		c.maxLunIndex = uint8(n - 1)
	}
	dev.MSD.OnBulkIn = c.onBulkInComplete
	return c
}

func (c *Channel) send(packetType uint32, id uint32, payload []byte) error {
	header := packetHeader{Type: packetType, Length: uint32(len(payload)), ID: id}
	buf := make([]byte, packetHeaderLen+len(payload))
	header.put(buf)
	copy(buf[packetHeaderLen:], payload)
	_, err := c.w.Write(buf)
	return err
}

// SendHello announces this device's capabilities, mirroring
// usbredirparser_init's usb_redir_hello packet.
func (c *Channel) SendHello(version string) error {
	var v [64]byte
	copy(v[:], version)
	caps := capsBitmap()
	payload := make([]byte, 64+4*len(caps))
	copy(payload, v[:])
	for i, w := range caps {
		binary.LittleEndian.PutUint32(payload[64+4*i:64+4*i+4], w)
	}
	return c.send(typeHello, 0, payload)
}

// Attach announces this device to the peer once the hello handshake is
// done: interface info, endpoint info, then a device_connect event at
// USB 2.0 high speed carrying the emulated VID/PID, mirroring the
// sequence usb-backend.c drives when a device is plugged into the
// synthetic bus.
func (c *Channel) Attach() error {
	c.mu.Lock()
	rejected, rules := c.rejected, c.rules
	c.mu.Unlock()
	if rejected {
		return errDeviceRejected
	}
	// The peer's filter speaks interface classes for a class-0 composite,
	// so the check runs against the mass-storage interface triple rather
	// than the device descriptor's zeroes.
	if !rulesAllow(rules, deviceClass, vendorID, productID, 0x0100) {
		return errDeviceFiltered
	}

	iface := interfaceInfoHeader{count: 1}
	iface.class[0] = deviceClass
	iface.subclass[0] = deviceSubclas
	iface.protocol[0] = deviceProto
	if err := c.send(typeInterfaceInfo, 0, iface.bytes()); err != nil {
		return err
	}

	var ep epInfoHeader
	for i := range ep.epType {
		ep.epType[i] = epTypeInvalid
	}
	inIdx, outIdx := epIndex(bulkInEndpoint), epIndex(bulkOutEndpoint)
	ep.epType[inIdx], ep.epType[outIdx] = epTypeBulk, epTypeBulk
	ep.maxPacketSize[inIdx], ep.maxPacketSize[outIdx] = maxPacketSize, maxPacketSize
	if err := c.send(typeEPInfo, 0, ep.bytes()); err != nil {
		return err
	}

	conn := deviceConnectHeader{
		Speed:         speedHigh,
		VendorID:      vendorID,
		ProductID:     productID,
		DeviceVersion: 0x0100,
	}
	if err := c.send(typeDeviceConnect, 0, conn.bytes()); err != nil {
		return err
	}

	c.mu.Lock()
	c.state = ChannelParser
	c.mu.Unlock()
	return nil
}

// Detach announces the emulated device's disconnect, mirroring
// spice_usb_backend_channel_detach's parser branch: when the peer
// declared the disconnect-ack capability the channel stays in PARSER
// until the ack packet arrives, otherwise it drops to HOST immediately.
func (c *Channel) Detach() error {
	c.mu.Lock()
	c.waitDisconnectAck = hasCap(c.peerCaps, capDeviceDisconnectAck)
	if !c.waitDisconnectAck {
		c.state = ChannelHost
	}
	c.rejected = false
	c.mu.Unlock()
	return c.send(typeDeviceDisconnect, 0, nil)
}

// State reports which backend currently owns the channel.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// parseHelloCaps pulls the capability words out of a hello payload: a
// fixed 64-byte version string followed by however many 32-bit words
// the peer sent.
func parseHelloCaps(payload []byte) []uint32 {
	if len(payload) <= 64 {
		return nil
	}
	caps := make([]uint32, 0, (len(payload)-64)/4)
	for off := 64; off+4 <= len(payload); off += 4 {
		caps = append(caps, binary.LittleEndian.Uint32(payload[off:off+4]))
	}
	return caps
}

// Feed ingests one or more complete usbredir packets from buf, returning
// the number of leading bytes consumed. Callers with a streaming
// transport should buffer any trailing partial packet and re-present it
// with the next read.
func (c *Channel) Feed(buf []byte) (int, error) {
	consumed := 0
	for {
		rest := buf[consumed:]
		if len(rest) < packetHeaderLen {
			return consumed, nil
		}
		h, err := parsePacketHeader(rest)
		if err != nil {
			return consumed, err
		}
		total := packetHeaderLen + int(h.Length)
		if len(rest) < total {
			return consumed, nil
		}
		payload := rest[packetHeaderLen:total]
		if err := c.dispatch(h, payload); err != nil {
			return consumed, err
		}
		consumed += total
	}
}

func (c *Channel) dispatch(h packetHeader, payload []byte) error {
	switch h.Type {
	case typeHello:
		c.mu.Lock()
		c.peerCaps = parseHelloCaps(payload)
		c.mu.Unlock()
		return nil
	case typeControlPacket:
		return c.handleControlPacket(h.ID, payload)
	case typeBulkPacket:
		return c.handleBulkPacket(h.ID, payload)
	case typeCancelDataPacket:
		c.handleCancelDataPacket(h.ID)
		return nil
	case typeResetDevice:
		c.dev.MSD.Reset()
		return nil
	case typeFilterReject:
		c.mu.Lock()
		c.rejected = true
		c.mu.Unlock()
		return nil
	case typeFilterFilter:
		rules, err := parseFilterRules(string(payload))
		if err != nil {
			c.log.Errorf("usbredir: %v", err)
			return nil
		}
		c.mu.Lock()
		c.rules = rules
		c.mu.Unlock()
		return nil
	case typeDeviceDisconnectAck:
		c.mu.Lock()
		if c.state == ChannelParser && c.waitDisconnectAck {
			c.state = ChannelHost
		}
		c.waitDisconnectAck = false
		c.mu.Unlock()
		return nil
	default:
		c.log.Debugf("usbredir: ignoring unhandled packet type %d", h.Type)
		return nil
	}
}

// handleControlPacket mirrors usb_cd_control_request: clear-stall on a
// standard endpoint request, MSC class reset/get-max-lun on a class
// interface request, and descriptor serving on a standard GET_DESCRIPTOR.
func (c *Channel) handleControlPacket(id uint32, payload []byte) error {
	h, err := parseControlPacketHeader(payload)
	if err != nil {
		return err
	}
	reqType := h.RequestType & 0x7f
	recip := reqType & reqTypeRecipMask

	var replyData []byte
	h.Status = statusSuccess

	switch {
	case reqType&0x60 == reqTypeStandard && recip == reqRecipEndpoint:
		// Possible clear-stall request; this device has nothing to stall.
		h.Length = 0

	case reqType&0x60 == reqTypeClass && recip == reqRecipIface:
		switch h.Request {
		case classReqReset:
			c.dev.MSD.Reset()
			h.Length = 0
		case classReqGetMaxLUN:
			if h.Length > 0 {
				h.Length = 1
				replyData = []byte{c.maxLunIndex}
			}
		default:
			h.Status = statusStall
		}

	case reqType&0x60 == reqTypeStandard && h.Request == stdReqGetDescrip:
		descType := byte(h.Value >> 8)
		index := byte(h.Value)
		d := c.desc.get(descType, index)
		if d == nil {
			h.Status = statusStall
			break
		}
		if int(h.Length) < len(d) {
			d = d[:h.Length]
		}
		replyData = d
		h.Length = uint16(len(d))

	default:
		h.Status = statusStall
	}

	out := make([]byte, controlPacketHeaderLen+len(replyData))
	h.put(out)
	copy(out[controlPacketHeaderLen:], replyData)
	return c.send(typeControlPacket, id, out)
}

// handleBulkPacket routes a bulk_packet to the OUT or IN endpoint.
// IN requests are queued into the pending ring and immediately handed to
// msd.Device.Read; completion arrives later via onBulkInComplete.
// Mirrors usb_cd_bulk_out_request/usb_cd_bulk_in_request.
func (c *Channel) handleBulkPacket(id uint32, payload []byte) error {
	h, err := parseBulkPacketHeader(payload)
	if err != nil {
		return err
	}
	data := payload[bulkPacketHeaderLen:]

	if h.Endpoint == bulkOutEndpoint {
		status := int32(statusSuccess)
		if err := c.dev.MSD.Write(data); err != nil {
			status = statusIOError
		}
		h.Status = status
		h.setTotalLength(uint32(len(data)))
		out := make([]byte, bulkPacketHeaderLen)
		h.put(out)
		return c.send(typeBulkPacket, id, out)
	}

	// Bulk IN: queue the request, mirroring usb_cd_bulk_in_request.
	c.mu.Lock()
	if len(c.pending) >= maxBulkInRequests {
		c.mu.Unlock()
		c.log.Debugf("usbredir: too many pending bulk-in reads")
		h.Status = statusBabble
		h.setTotalLength(0)
		out := make([]byte, bulkPacketHeaderLen)
		h.put(out)
		return c.send(typeBulkPacket, id, out)
	}
	c.pending = append(c.pending, pendingRead{id: uint64(id), hout: h})
	c.mu.Unlock()

	if err := c.dev.MSD.Read(h.totalLength()); err != nil {
		c.mu.Lock()
		c.pending = c.pending[:len(c.pending)-1]
		c.mu.Unlock()

		h.Status = statusIOError
		h.setTotalLength(0)
		out := make([]byte, bulkPacketHeaderLen)
		h.put(out)
		return c.send(typeBulkPacket, id, out)
	}
	return nil
}

// onBulkInComplete is msd.Device's OnBulkIn callback. It splits one
// completed buffer across however many bulk-in requests are queued, in
// arrival order, mirroring cd_usb_bulk_msd_read_complete's nread loop.
func (c *Channel) onBulkInComplete(data []byte, status msd.BulkStatus) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	var bulkStatus BulkCompletionStatus
	switch status {
	case msd.BulkStatusGood:
		bulkStatus = BulkGood
	case msd.BulkStatusCanceled:
		bulkStatus = BulkCanceled
	default:
		bulkStatus = BulkStall
	}

	offset := 0
	remaining := len(data)
	for _, p := range pending {
		want := int(p.hout.totalLength())
		if want > remaining {
			want = remaining
			p.hout.setTotalLength(uint32(want))
		}
		p.hout.Status = bulkStatusFrom(bulkStatus)

		var chunk []byte
		if want > 0 {
			chunk = data[offset : offset+want]
		}
		out := make([]byte, bulkPacketHeaderLen+len(chunk))
		p.hout.put(out)
		copy(out[bulkPacketHeaderLen:], chunk)
		if err := c.send(typeBulkPacket, uint32(p.id), out); err != nil {
			c.log.Errorf("usbredir: bulk-in send failed: %v", err)
		}

		offset += want
		remaining -= want
	}

	if remaining > 0 {
		c.log.Debugf("usbredir: %d completed bytes had no pending read to carry them", remaining)
	}

	// A guest-issued eject on a delete_on_eject device is torn down
	// exactly here, mirroring cd_usb_bulk_msd_read_complete's
	// "if (d->deleting)" check run against the very same completion that
	// answers the eject command's own CSW.
	if c.reg != nil {
		c.reg.PollDeleteOnEject(c.dev)
	}
}

// handleCancelDataPacket aborts a queued bulk-in read, mirroring
// usb_cd_cancel_request.
func (c *Channel) handleCancelDataPacket(id uint32) {
	c.mu.Lock()
	idx := -1
	for i, p := range c.pending {
		if p.id == uint64(id) {
			idx = i
			break
		}
	}
	c.mu.Unlock()

	if idx < 0 {
		c.log.Debugf("usbredir: cancel_data_packet for unknown id %d", id)
		return
	}
	c.dev.MSD.CancelRead()
}
