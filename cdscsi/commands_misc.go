package cdscsi

import "github.com/coreos/go-usbcd/scsi"

const (
	mediumRemovalReqAllow        = 0x00
	mediumRemovalReqPrevent      = 0x01
	mediumRemovalReqAllowChanger = 0x02
	mediumRemovalReqPrevent2     = 0x03
)

// cmdAllowMediumRemoval latches the PREVENT ALLOW MEDIUM REMOVAL request
// bit. The source engine sets prevent_media_removal true on an "allow"
// code and leaves it false on a "prevent" code, backwards from the
// field's own name — fixed here to latch true only for the PREVENT
// codes (0x01/0x03).
func cmdAllowMediumRemoval(dev *LU, req *Request) {
	req.XferDir = XferNone

	prevent := req.CDB[4] & 0x03
	switch prevent {
	case mediumRemovalReqPrevent, mediumRemovalReqPrevent2:
		dev.mu.Lock()
		dev.PreventMediaRemoval = true
		dev.mu.Unlock()
	case mediumRemovalReqAllow, mediumRemovalReqAllowChanger:
		dev.mu.Lock()
		dev.PreventMediaRemoval = false
		dev.mu.Unlock()
	}

	req.completeGood()
}

func cmdSendEvent(dev *LU, req *Request) {
	req.XferDir = XferToDev
	req.completeGood()
}

func cmdReportKey(dev *LU, req *Request) {
	req.checkCondition(dev, scsi.InvalidOpcode)
}

func cmdSendKey(dev *LU, req *Request) {
	req.checkCondition(dev, scsi.InvalidOpcode)
}

const (
	startStopPowerMask  = 0x0f
	startStopImmed      = 0x01
	startStopLoej       = 0x01 << 1
	startStopStart      = 0x01
)

// cmdStartStopUnit toggles the tray (LOEJ/START bits) and power
// condition. Ejecting while the LU's media-removal-prevented flag is
// set returns CHECK CONDITION/NOT_READY_REMOVAL_PREVENTED instead of
// unconditionally ejecting as the source engine does. A prevented
// eject does not detach the backing stream: only LU.Unload does that.
func cmdStartStopUnit(dev *LU, req *Request) {
	req.XferDir = XferNone

	loej := req.CDB[4]&startStopLoej != 0
	start := req.CDB[4]&startStopStart != 0
	powerCond := PowerCondition((req.CDB[4] >> 4) & startStopPowerMask)

	if loej {
		if !start {
			if dev.PreventMediaRemoval {
				req.checkCondition(dev, scsi.NotReadyRemovalPrevented)
				return
			}
			dev.SetLoadedFlag(false)
		} else {
			dev.SetLoadedFlag(true)
		}
		req.completeGood()
		return
	}

	switch req.CDB[4] >> 4 & startStopPowerMask {
	case 1, 2, 3:
		// Explicit ACTIVE/IDLE/STANDBY power condition.
		dev.mu.Lock()
		dev.PowerCond = powerCond
		dev.mu.Unlock()
	default:
		// POWER CONDITION == 0 ("start valid"); LU_CONTROL (7) and the
		// forced-idle/forced-standby codes (0xA/0xB) are treated the
		// same way this target has no mechanism-load state to distinguish
		// them from: fall back to the START bit.
		dev.mu.Lock()
		if start {
			dev.PowerCond = PowerActive
		} else {
			dev.PowerCond = PowerStopped
		}
		dev.mu.Unlock()
	}

	req.completeGood()
}
