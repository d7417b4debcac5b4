package cdscsi

import "github.com/coreos/go-usbcd/scsi"

func cmdReadCapacity(dev *LU, req *Request) {
	req.XferDir = XferFromDev
	req.ReqLen = 8

	lastBlk := dev.NumBlocks - 1
	scsi.PutLBA32(req.Buf[0:4], lastBlk)
	scsi.PutLBA32(req.Buf[4:8], dev.BlockSize)

	req.InLen = 8
	req.completeGood()
}

const (
	rdiDiscNonErasable     = 0x00 << 4
	rdiSessionComplete     = 0x03 << 2
	rdiDiscComplete        = 0x02
	rdiDiscPMATypeCDROM    = 0x00
	rdiStandardLen         = 34
)

func cmdReadDiscInformation(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	dataType := req.CDB[1] & 0x7
	if dataType != 0 {
		req.checkCondition(dev, scsi.InvalidField)
		return
	}

	req.ReqLen = uint64(req.CDB[7])<<8 | uint64(req.CDB[8])
	n := uint64(rdiStandardLen)
	if req.ReqLen < n {
		n = req.ReqLen
	}

	out := req.Buf
	for i := range out[:rdiStandardLen] {
		out[i] = 0
	}
	const firstTrack, lastTrack, numSessions = 1, 1, 1
	out[1] = rdiStandardLen - 2
	out[2] = rdiDiscNonErasable | rdiSessionComplete | rdiDiscComplete
	out[3] = firstTrack
	out[4] = numSessions & 0xff
	out[5] = firstTrack & 0xff
	out[6] = lastTrack & 0xff
	out[8] = rdiDiscPMATypeCDROM
	out[9] = (numSessions >> 8) & 0xff
	out[10] = (firstTrack >> 8) & 0xff
	out[11] = (lastTrack >> 8) & 0xff

	req.InLen = n
	req.completeGood()
}

const (
	rtiAddrTypeLBA        = 0x00
	rtiAddrTypeTrackNum   = 0x01
	rtiAddrTypeSessionNum = 0x02

	tibLen              = 0x36
	tibTrackModeCD      = 0x04
	tibDataModeISO10149 = 0x01
	tibLRAValid         = 0x01 << 1
)

func cmdReadTrackInformation(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	trackSize := dev.NumBlocks
	lastAddr := trackSize - 1
	const trackNum, sessionNum = 1, 1

	addrType := req.CDB[1] & 0x3
	addrNum := uint32(req.CDB[2])<<24 | uint32(req.CDB[3])<<16 | uint32(req.CDB[4])<<8 | uint32(req.CDB[5])

	switch addrType {
	case rtiAddrTypeLBA:
		if addrNum > lastAddr {
			req.checkCondition(dev, scsi.InvalidField)
			return
		}
	case rtiAddrTypeTrackNum:
		if addrNum != trackNum {
			req.checkCondition(dev, scsi.InvalidField)
			return
		}
	case rtiAddrTypeSessionNum:
		if addrNum != sessionNum {
			req.checkCondition(dev, scsi.InvalidField)
			return
		}
	default:
		req.checkCondition(dev, scsi.InvalidField)
		return
	}

	req.ReqLen = uint64(req.CDB[7])<<8 | uint64(req.CDB[8])
	n := uint64(tibLen)
	if req.ReqLen < n {
		n = req.ReqLen
	}

	out := req.Buf
	for i := range out[:tibLen] {
		out[i] = 0
	}
	out[1] = tibLen - 2
	out[2] = sessionNum
	out[3] = trackNum
	out[5] = tibTrackModeCD & 0x0f
	out[6] = tibDataModeISO10149 & 0x0f
	out[7] = tibLRAValid
	scsi.PutLBA32(out[24:28], trackSize)
	scsi.PutLBA32(out[28:32], lastAddr)

	req.InLen = n
	req.completeGood()
}

const (
	readTOCTrackDescLen = 8
	readTOCRespLen      = 4 + 2*readTOCTrackDescLen
)

func cmdReadTOC(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	msf := (req.CDB[1] >> 1) & 0x1
	lastBlk := dev.NumBlocks - 1

	req.ReqLen = uint64(req.CDB[7])<<8 | uint64(req.CDB[8])
	n := uint64(readTOCRespLen)
	if req.ReqLen < n {
		n = req.ReqLen
	}

	out := req.Buf
	for i := range out[:readTOCRespLen] {
		out[i] = 0
	}
	out[1] = readTOCRespLen - 2
	out[2] = 1 // first track/session
	out[3] = 1 // last track/session

	out[5] = 0x04 // data CD, no Q-subchannel
	out[6] = 0x01 // track number
	if msf != 0 {
		out[10] = 0x02
	}

	out[13] = 0x04
	out[14] = 0xaa // lead-out track number
	if msf != 0 {
		lastBlk = 0xff300000
	}
	scsi.PutLBA32(out[16:20], lastBlk)

	req.InLen = n
	req.completeGood()
}
