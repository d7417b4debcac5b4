package cdscsi

import "github.com/coreos/go-usbcd/scsi"

// MMC feature numbers (MMC-3 Feature Descriptors).
const (
	featureProfilesList = 0x0000
	featureCore         = 0x0001
	featureMorph        = 0x0002
	featureRemovable    = 0x0003
	featureRandomRead   = 0x0010
	featureCDRead       = 0x001E
	featureDVDRead      = 0x001F
	featurePowerMgmt    = 0x0100
	featureTimeout      = 0x0105

	profileDVDROM = 0x0010
	profileCDROM  = 0x0008

	featureReqAll     = 0
	featureReqCurrent = 1
	featureReqSingle  = 2

	featureCurrent    = 0x02
	featurePersistent = 0x01
	featureVersion1   = 0x01 << 2

	featureHeaderLen = 8
	featureDescLen   = 4
	profileDescLen   = 4

	removableLoadingTray  = 0x01 << 5
	removableEject        = 0x01 << 3
	removableNoPreventJmp = 0x01 << 2
)

func featureReportable(feature, startFeature, reqType uint32) bool {
	return (reqType == featureReqSingle && startFeature == feature) || feature >= startFeature
}

func addFeatureProfilesList(dev *LU, out []byte, start, reqType uint32) int {
	if !featureReportable(featureProfilesList, start, reqType) {
		return 0
	}
	out[0], out[1] = byte(featureProfilesList>>8), byte(featureProfilesList)
	out[2] = featurePersistent | featureCurrent

	profile := out[featureDescLen:]
	profile[0], profile[1] = byte(profileDVDROM>>8), byte(profileDVDROM)
	if !dev.CDROM {
		profile[2] = featureCurrent
	}
	profile = profile[profileDescLen:]
	profile[0], profile[1] = byte(profileCDROM>>8), byte(profileCDROM)
	if dev.CDROM {
		profile[2] = featureCurrent
	}

	addLen := 2 * profileDescLen
	out[3] = byte(addLen)
	return featureDescLen + addLen
}

func addFeatureCore(dev *LU, out []byte, start, reqType uint32) int {
	const profLen = 4
	if !featureReportable(featureCore, start, reqType) {
		return 0
	}
	out[0], out[1] = byte(featureCore>>8), byte(featureCore)
	out[2] = featurePersistent | featureCurrent
	out[3] = profLen
	out[featureDescLen+3] = 0x01 // physical interface: SCSI
	return featureDescLen + profLen
}

func addFeatureMorph(dev *LU, out []byte, start, reqType uint32) int {
	const profLen = 4
	if !featureReportable(featureMorph, start, reqType) {
		return 0
	}
	out[1] = featureMorph
	out[2] = featurePersistent | featureCurrent
	out[3] = profLen
	out[featureDescLen] = 0x01 // async events supported
	return featureDescLen + profLen
}

func addFeatureRemovable(dev *LU, out []byte, start, reqType uint32) int {
	const profLen = 4
	if !featureReportable(featureRemovable, start, reqType) {
		return 0
	}
	out[1] = featureRemovable
	out[2] = featurePersistent | featureCurrent
	out[3] = profLen
	flags := byte(removableNoPreventJmp)
	if dev.Removable {
		flags |= removableLoadingTray | removableEject
	}
	out[featureDescLen] = flags
	return featureDescLen + profLen
}

func addFeatureRandomRead(dev *LU, out []byte, start, reqType uint32) int {
	const profLen = 8
	if !featureReportable(featureRandomRead, start, reqType) {
		return 0
	}
	out[0], out[1] = byte(featureRandomRead>>8), byte(featureRandomRead)
	out[2] = featurePersistent | featureCurrent
	out[3] = profLen
	profile := out[featureDescLen:]
	scsi.PutLBA32(profile[0:4], dev.BlockSize)
	if dev.CDROM {
		profile[5] = 0x01
	} else {
		profile[5] = 0x10
	}
	return featureDescLen + profLen
}

func addFeatureCDRead(dev *LU, out []byte, start, reqType uint32) int {
	const profLen = 4
	if !featureReportable(featureCDRead, start, reqType) {
		return 0
	}
	out[0], out[1] = byte(featureCDRead>>8), byte(featureCDRead)
	out[2] = featureVersion1 | featurePersistent | featureCurrent
	out[3] = profLen
	return featureDescLen + profLen
}

func addFeatureDVDRead(dev *LU, out []byte, start, reqType uint32) int {
	if !featureReportable(featureCDRead, start, reqType) { // matches source: gated on CD_READ
		return 0
	}
	out[0], out[1] = byte(featureDVDRead>>8), byte(featureDVDRead)
	out[2] = featureVersion1 | featurePersistent | featureCurrent
	out[3] = 0
	return featureDescLen
}

func addFeaturePowerMgmt(dev *LU, out []byte, start, reqType uint32) int {
	if !featureReportable(featurePowerMgmt, start, reqType) {
		return 0
	}
	out[0], out[1] = byte(featurePowerMgmt>>8), byte(featurePowerMgmt&0xFF)
	out[2] = featurePersistent | featureCurrent
	out[3] = 0
	return featureDescLen
}

func addFeatureTimeout(dev *LU, out []byte, start, reqType uint32) int {
	if !featureReportable(featureTimeout, start, reqType) {
		return 0
	}
	out[0], out[1] = byte(featureTimeout>>8), byte(featureTimeout&0xFF)
	out[2] = featurePersistent | featureCurrent
	out[3] = 0
	return featureDescLen
}

func cmdGetConfiguration(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	profileNum := uint32(profileDVDROM)
	if dev.CDROM {
		profileNum = profileCDROM
	}

	reqType := uint32(req.CDB[1] & 0x3)
	startFeature := uint32(req.CDB[2])<<8 | uint32(req.CDB[3])
	req.ReqLen = uint64(req.CDB[7])<<8 | uint64(req.CDB[8])

	out := req.Buf
	for i := range out[:req.ReqLen] {
		out[i] = 0
	}
	respLen := featureHeaderLen

	switch reqType {
	case featureReqAll, featureReqCurrent:
		respLen += addFeatureProfilesList(dev, out[respLen:], startFeature, reqType)
		respLen += addFeatureCore(dev, out[respLen:], startFeature, reqType)
		respLen += addFeatureMorph(dev, out[respLen:], startFeature, reqType)
		respLen += addFeatureRemovable(dev, out[respLen:], startFeature, reqType)
		respLen += addFeatureRandomRead(dev, out[respLen:], startFeature, reqType)
		respLen += addFeatureCDRead(dev, out[respLen:], startFeature, reqType)
		respLen += addFeatureDVDRead(dev, out[respLen:], startFeature, reqType)
		respLen += addFeaturePowerMgmt(dev, out[respLen:], startFeature, reqType)
		respLen += addFeatureTimeout(dev, out[respLen:], startFeature, reqType)
	case featureReqSingle:
		switch startFeature {
		case featureCore:
			respLen += addFeatureCore(dev, out[respLen:], startFeature, reqType)
		case featureMorph:
			respLen += addFeatureMorph(dev, out[respLen:], startFeature, reqType)
		case featureRemovable:
			respLen += addFeatureRemovable(dev, out[respLen:], startFeature, reqType)
		case featureRandomRead:
			respLen += addFeatureRandomRead(dev, out[respLen:], startFeature, reqType)
		case featureCDRead:
			respLen += addFeatureCDRead(dev, out[respLen:], startFeature, reqType)
		case featureDVDRead:
			respLen += addFeatureDVDRead(dev, out[respLen:], startFeature, reqType)
		case featurePowerMgmt:
			respLen += addFeaturePowerMgmt(dev, out[respLen:], startFeature, reqType)
		case featureTimeout:
			respLen += addFeatureTimeout(dev, out[respLen:], startFeature, reqType)
		}
	default:
		req.checkCondition(dev, scsi.InvalidField)
		return
	}

	scsi.PutLBA32(out[0:4], uint32(respLen))
	out[6], out[7] = byte(profileNum>>8), byte(profileNum)

	n := uint64(respLen)
	if req.ReqLen < n {
		n = req.ReqLen
	}
	req.InLen = n
	req.completeGood()
}

const (
	eventClassMedia      = 0x04
	eventHeaderNEA       = 0x01 << 7
	eventHeaderLen       = 4
	mediaEventNoChange   = 0x0
	mediaStatusPresent   = 0x1
)

func cmdGetEventStatusNotification(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	classReq := req.CDB[4]
	req.ReqLen = uint64(req.CDB[7])<<8 | uint64(req.CDB[8])

	out := req.Buf
	for i := range out[:req.ReqLen] {
		out[i] = 0
	}
	respLen := eventHeaderLen

	if classReq&eventClassMedia != 0 {
		out[2] = eventClassMedia
		out[3] = 0x01 << eventClassMedia
		out[respLen] = mediaEventNoChange & 0x0f
		present := byte(0)
		if dev.Loaded {
			present = mediaStatusPresent
		}
		out[respLen+1] = present
		respLen += 4
	} else {
		out[2] = eventHeaderNEA
	}

	n := uint64(respLen)
	if req.ReqLen < n {
		n = req.ReqLen
	}
	req.InLen = n
	req.completeGood()
}

const (
	perfTypePerformance = 0x00
	perfHeaderLen       = 8
	perfDescrLen        = 16
)

func cmdGetPerformance(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	dataType := uint32(req.CDB[1] & 0x0f)
	startLBA := uint32(req.CDB[2])<<24 | uint32(req.CDB[3])<<16 | uint32(req.CDB[4])<<8 | uint32(req.CDB[5])
	maxNumDescr := uint32(req.CDB[8])<<8 | uint32(req.CDB[9])
	perfType := req.CDB[10]

	if perfType != perfTypePerformance {
		req.checkCondition(dev, scsi.InvalidField)
		return
	}

	write := (dataType >> 2) & 0x01
	if write != 0 {
		getPerformanceEmpty(dev, req, dataType)
		return
	}
	except := dataType & 0x03
	if except != 0x01 {
		startLBA = 0
	}

	respLen := perfHeaderLen + perfDescrLen
	perfDataLen := respLen - 4
	endLBA := dev.NumBlocks - 1
	const perfKB = 10000

	out := req.Buf
	for i := range out[:respLen] {
		out[i] = 0
	}
	scsi.PutLBA32(out[0:4], uint32(perfDataLen))
	desc := out[perfHeaderLen:]
	scsi.PutLBA32(desc[0:4], startLBA)
	scsi.PutLBA32(desc[4:8], perfKB)
	scsi.PutLBA32(desc[8:12], endLBA)
	scsi.PutLBA32(desc[12:16], perfKB)

	req.ReqLen = uint64(perfHeaderLen + int(maxNumDescr)*perfDescrLen)
	n := uint64(respLen)
	if req.ReqLen < n {
		n = req.ReqLen
	}
	req.InLen = n
	req.completeGood()
}

func getPerformanceEmpty(dev *LU, req *Request, dataType uint32) {
	out := req.Buf
	for i := range out[:perfHeaderLen] {
		out[i] = 0
	}
	if (dataType>>2)&0x01 != 0 {
		out[4] = 0x02
	}
	req.InLen = perfHeaderLen
	req.completeGood()
}

const (
	mechStatusHdrLen  = 8
	mechStatusSlotLen = 4
	changerReady      = 0x00
	mechStateIdle     = 0x00
	slotDiskPresent   = 0x80
)

func cmdMechanismStatus(dev *LU, req *Request) {
	req.XferDir = XferFromDev

	req.ReqLen = uint64(req.CDB[8])<<8 | uint64(req.CDB[9])
	out := req.Buf
	for i := range out[:req.ReqLen] {
		out[i] = 0
	}

	out[0] = 0x01 | (changerReady << 4)
	out[1] = mechStateIdle << 4

	respLen := mechStatusHdrLen
	slot := out[mechStatusHdrLen:]
	if dev.Loaded {
		slot[0] |= slotDiskPresent
	}
	respLen += mechStatusSlotLen

	n := uint64(respLen)
	if req.ReqLen < n {
		n = req.ReqLen
	}
	req.InLen = n
	req.completeGood()
}
