package cdscsi

import "github.com/coreos/go-usbcd/scsi"

// Mode page codes this target answers MODE SENSE for.
const (
	modePageRWError       = 0x01
	modePagePower         = 0x1a
	modePageFaultFail     = 0x1c
	modePageCapsMechStatus = 0x2a
)

const (
	modeParam10HeaderLen = 8

	modePageLenRWError   = 12
	modePageLenPower     = 12
	modePageLenFaultFail = 12

	faultFailFlagPerf = 0x80

	modePageLenCapsMechStatusRO = 26
	capsCDRRead                 = 0x01
	capsCDRWRead                = 0x01 << 1
	capsDVDROMRead               = 0x01 << 3
	capsDVDRRead                 = 0x01 << 4
	capsDVDRAMRead               = 0x01 << 5
	capsEject                    = 0x01 << 3
	capsLoadingTray              = 0x01 << 5
)

func addModePageRWErrorRecovery(out []byte) int {
	out[0] = modePageRWError
	out[1] = modePageLenRWError - 2
	out[3] = 1 // read retry count
	return modePageLenRWError
}

func addModePagePowerCondition(out []byte) int {
	out[0] = modePagePower
	out[1] = modePageLenPower - 2
	return modePageLenPower
}

func addModePageFaultReporting(out []byte) int {
	out[0] = modePageFaultFail
	out[1] = modePageLenFaultFail - 2
	out[2] |= faultFailFlagPerf
	return modePageLenFaultFail
}

func addModePageCapsMechStatus(out []byte) int {
	out[0] = modePageCapsMechStatus
	out[1] = modePageLenCapsMechStatusRO
	out[2] = capsCDRRead | capsCDRWRead | capsDVDROMRead | capsDVDRRead | capsDVDRAMRead
	out[6] = capsLoadingTray | capsEject
	return modePageLenCapsMechStatusRO
}

func cmdModeSense10(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	page := req.CDB[2] & 0x3f
	respLen := modeParam10HeaderLen

	req.ReqLen = uint64(req.CDB[7])<<8 | uint64(req.CDB[8])
	out := req.Buf
	for i := range out[:req.ReqLen] {
		out[i] = 0
	}
	out[2] = 0 // medium type

	switch page {
	case modePageRWError:
		respLen += addModePageRWErrorRecovery(out[respLen:])
	case modePagePower:
		respLen += addModePagePowerCondition(out[respLen:])
	case modePageFaultFail:
		respLen += addModePageFaultReporting(out[respLen:])
	case modePageCapsMechStatus:
		respLen += addModePageCapsMechStatus(out[respLen:])
	default:
		req.checkCondition(dev, scsi.InvalidField)
		return
	}

	out[0] = byte((respLen - 2) >> 8)
	out[1] = byte(respLen - 2)

	n := uint64(respLen)
	if req.ReqLen < n {
		n = req.ReqLen
	}
	req.InLen = n
	req.completeGood()
}

// cmdModeSelect6 validates the block descriptor/page-code framing and
// accepts the page only if MODE SENSE would have advertised it for this
// page code — the source engine logs the decoded fields and accepts
// unconditionally; this target additionally rejects an unadvertised page
// with INVALID_PARAM, deciding the spec's open question the stricter way.
func cmdModeSelect6(dev *LU, req *Request) {
	const headerLen = 4

	pageFormat := (req.CDB[1] >> 4) & 0x1
	_ = pageFormat
	listLen := uint64(req.CDB[4])

	if listLen > uint64(req.BufLen) {
		req.checkCondition(dev, scsi.InvalidParamLen)
		return
	}

	blockDescLen := uint32(0)
	if req.BufLen >= headerLen {
		blockDescLen = uint32(req.Buf[3])
	}

	if req.BufLen >= headerLen+blockDescLen+2 {
		pageData := req.Buf[headerLen+blockDescLen:]
		pageNum := pageData[0] & 0x3f
		if !modeSenseSupportsPage(pageNum) {
			req.checkCondition(dev, scsi.InvalidParam)
			return
		}
	}

	req.completeGood()
}

func cmdModeSelect10(dev *LU, req *Request) {
	const headerLen = 8

	listLen := uint64(req.CDB[7])<<8 | uint64(req.CDB[8])
	if listLen > uint64(req.BufLen) {
		req.checkCondition(dev, scsi.InvalidParamLen)
		return
	}

	blockDescLen := uint32(0)
	if req.BufLen >= headerLen {
		blockDescLen = uint32(req.Buf[6])<<8 | uint32(req.Buf[7])
	}

	if req.BufLen >= headerLen+blockDescLen+2 {
		pageData := req.Buf[headerLen+blockDescLen:]
		pageNum := pageData[0] & 0x3f
		if !modeSenseSupportsPage(pageNum) {
			req.checkCondition(dev, scsi.InvalidParam)
			return
		}
	}

	req.completeGood()
}

func modeSenseSupportsPage(page byte) bool {
	switch page {
	case modePageRWError, modePagePower, modePageFaultFail, modePageCapsMechStatus:
		return true
	default:
		return false
	}
}
