package cdscsi

import "github.com/coreos/go-usbcd/scsi"

const typeROM = 0x05 // SCSI peripheral device type for a CD/DVD-ROM.

func cmdTestUnitReady(dev *LU, req *Request) {
	req.XferDir = XferNone
	req.InLen = 0

	if dev.PowerCond == PowerStopped {
		req.checkCondition(dev, scsi.InitCmdReq)
		return
	}
	if !dev.Loaded {
		req.checkCondition(dev, scsi.NoMedium)
		return
	}
	req.completeGood()
}

func cmdRequestSense(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	allocLen := uint64(req.CDB[4])
	fixed := dev.FixedSense()
	req.ReqLen = allocLen
	n := uint64(len(fixed))
	if allocLen < n {
		n = allocLen
	}
	req.InLen = n
	copy(req.Buf, fixed[:])
	dev.ClearSense()
	req.completeGood()
}

func cmdReportLuns(t *Target, dev *LU, req *Request) {
	req.XferDir = XferFromDev

	cdb := req.cdb()
	req.ReqLen = uint64(scsi.AllocationLength(cdb))

	var luns []uint32
	if req.CDB[2] == 0x01 {
		// SELECT REPORT == "well known logical units only": this target
		// advertises none.
	} else {
		luns = t.realizedLUNsLocked()
	}

	out := req.Buf
	n := uint32(len(luns))
	// Header carries the LUN list length in bytes (SPC-3), not the entry
	// count the source engine wrote there.
	scsi.PutLBA32(out[0:4], n*8)
	for i := range out[4:8] {
		out[4+i] = 0
	}
	pos := 8
	for _, lun := range luns {
		scsi.PutLBA32(out[pos:pos+4], lun)
		for i := range out[pos+4 : pos+8] {
			out[pos+4+i] = 0
		}
		pos += 8
	}
	req.InLen = uint64(pos)
	req.completeGood()
}

func cmdInquiryVPDNoLun(req *Request, perifQual byte) {
	out := req.Buf
	pageCode := req.CDB[2]

	out[0] = (perifQual << 5) | typeROM
	out[1] = pageCode
	out[2] = 0
	out[3] = 0

	respLen := uint64(4)
	if req.ReqLen < respLen {
		respLen = req.ReqLen
	}
	req.InLen = respLen
	req.completeGood()
}

func cmdInquiryStandardNoLun(req *Request, perifQual byte) {
	out := req.Buf
	respLen := uint64(5)

	out[0] = (perifQual << 5) | typeROM
	out[1] = 0
	out[2] = 0x00 // no version claimed
	out[3] = 0x02 // SPC-3 response data format
	out[4] = 0

	if req.ReqLen < respLen {
		respLen = req.ReqLen
	}
	req.InLen = respLen
	req.completeGood()
}

func cmdInquiryVPD(dev *LU, req *Request) {
	out := req.Buf
	pageCode := req.CDB[2]
	n := 4
	start := n

	out[0] = typeROM
	out[1] = pageCode
	out[2] = 0
	out[3] = 0

	switch pageCode {
	case 0x00: // supported VPD pages
		out[n] = 0x00
		n++
		if dev.Serial != "" {
			out[n] = 0x80
			n++
		}
		out[n] = 0x83
		n++
	case 0x80: // unit serial number
		s := dev.Serial
		if len(s) > 36 {
			s = s[:36]
		}
		n += copy(out[n:], s)
	case 0x83: // device identification
		s := dev.WWN
		if s == "" {
			s = dev.Serial
		}
		if len(s) > 20 {
			s = s[:20]
		}
		out[n] = 0x02 // ASCII code set
		out[n+1] = 0
		out[n+2] = 0
		out[n+3] = byte(len(s))
		n += 4
		n += copy(out[n:], s)
	default:
		req.checkCondition(dev, scsi.InvalidField)
		return
	}

	out[start-1] = byte(n - start)
	req.InLen = uint64(n)
	req.completeGood()
}

const (
	inquiryStandardLen      = 96
	inquiryStandardLenNoVer = 57

	inquiryRemovableMedium = 0x80

	inquiryVersionNone = 0x00
	inquiryVersionSPC3 = 0x05

	inquiryRespDataFormatSPC3 = 0x02

	inquiryVersionDescSAM2 = 0x040
	inquiryVersionDescSPC3 = 0x300
	inquiryVersionDescMMC3 = 0x2A0
	inquiryVersionDescSBC2 = 0x320
)

func strpadcpy(dst []byte, src string, pad byte) {
	n := copy(dst, src)
	for i := n; i < len(dst); i++ {
		dst[i] = pad
	}
}

func cmdInquiryStandard(dev *LU, req *Request) {
	out := req.Buf
	respLen := inquiryStandardLen
	if dev.ClaimVersion == 0 {
		respLen = inquiryStandardLenNoVer
	}

	out[0] = (perifQualifierConnected << 5) | typeROM
	if dev.Removable {
		out[1] = inquiryRemovableMedium
	} else {
		out[1] = 0
	}
	if dev.ClaimVersion == 0 {
		out[2] = inquiryVersionNone
	} else {
		out[2] = inquiryVersionSPC3
	}
	out[3] = inquiryRespDataFormatSPC3
	out[4] = byte(respLen - 4)

	strpadcpy(out[8:16], dev.Vendor, ' ')
	strpadcpy(out[16:32], dev.Product, ' ')
	copy(out[32:36], dev.Version)

	if dev.ClaimVersion > 0 {
		out[58] = byte(inquiryVersionDescSAM2 >> 8)
		out[59] = byte(inquiryVersionDescSAM2)
		out[60] = byte(inquiryVersionDescSPC3 >> 8)
		out[61] = byte(inquiryVersionDescSPC3 & 0xFF)
		out[62] = byte(inquiryVersionDescMMC3 >> 8)
		out[63] = byte(inquiryVersionDescMMC3 & 0xFF)
		out[64] = byte(inquiryVersionDescSBC2 >> 8)
		out[65] = byte(inquiryVersionDescSBC2 & 0xFF)
	}

	n := uint64(respLen)
	if req.ReqLen < n {
		n = req.ReqLen
	}
	req.InLen = n
	req.completeGood()
}

const (
	inquiryFlagEVPD  = 0x01
	inquiryFlagCmdDT = 0x02
)

func cmdInquiry(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	evpd := req.CDB[1]&inquiryFlagEVPD != 0
	cmdDT := req.CDB[1]&inquiryFlagCmdDT != 0

	if cmdDT {
		req.checkCondition(dev, scsi.InvalidField)
		return
	}

	req.ReqLen = uint64(req.CDB[4]) | uint64(req.CDB[3])<<8
	for i := range req.Buf[:req.ReqLen] {
		req.Buf[i] = 0
	}

	if evpd {
		cmdInquiryVPD(dev, req)
		return
	}
	if req.CDB[2] != 0 {
		req.checkCondition(dev, scsi.InvalidField)
		return
	}
	cmdInquiryStandard(dev, req)
}
