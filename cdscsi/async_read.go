package cdscsi

import (
	"context"

	log "github.com/prometheus/common/log"

	"github.com/coreos/go-usbcd/scsi"
)

// cmdRead implements READ(6/10/12/16): gates on power state and media
// presence exactly as cd_scsi_cmd_read does, decodes the LBA/length
// fields for whichever CDB size this opcode carries, then starts an
// async read against the LU's backing stream.
func cmdRead(t *Target, dev *LU, req *Request) {
	req.XferDir = XferFromDev

	if dev.PowerCond == PowerStopped {
		req.checkCondition(dev, scsi.InitCmdReq)
		return
	}
	if !dev.Loaded {
		req.checkCondition(dev, scsi.NoMedium)
		return
	}

	cdb := req.cdb()
	req.LBA = scsi.LBA(cdb)
	req.Offset = req.LBA * uint64(dev.BlockSize)

	count := uint64(scsi.XferLen(cdb))
	if count == 0 && req.CDBLen == 6 {
		count = 256 // READ(6)'s zero transfer length means 256 blocks.
	}
	req.Count = count
	req.ReqLen = count * uint64(dev.BlockSize)

	if req.LBA+count > uint64(dev.NumBlocks) {
		req.checkCondition(dev, scsi.LBAOutOfRange)
		return
	}

	startAsyncRead(t, dev, req)
}

// startAsyncRead launches the backing-stream read in its own goroutine
// and arms a context the request's Cancel path can signal. Go's
// io.ReaderAt has no notion of mid-flight cancellation, so a cancel here
// is best-effort: it marks the request Canceled/Disposed for the caller
// immediately rather than waiting on the read, mirroring the
// already-asynchronous disposition the source engine's GCancellable gave
// it.
func startAsyncRead(t *Target, dev *LU, req *Request) {
	ctx, cancel := context.WithCancel(context.Background())
	req.ctx = ctx
	req.cancel = cancel

	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)

	// The staging buffer caps a single command's transfer; a READ larger
	// than it comes back short and the CSW's residue reports the gap.
	readLen := req.ReqLen
	if readLen > uint64(len(req.Buf)) {
		readLen = uint64(len(req.Buf))
	}

	go func() {
		n, err := dev.Stream.ReadAt(req.Buf[:readLen], int64(req.Offset))
		done <- result{n, err}
	}()

	go func() {
		select {
		case <-ctx.Done():
			t.mu.Lock()
			if t.state == TargetReset {
				req.State = ReqDisposed
			} else {
				req.State = ReqCanceled
			}
			t.mu.Unlock()
			req.InLen = 0
			req.Status = scsi.StatusGood
			req.complete(req)
		case r := <-done:
			req.State = ReqComplete
			if r.err != nil {
				log.Base().Errorf("read_async_complete: %v", r.err)
				req.InLen = 0
			} else {
				n := uint64(r.n)
				if n > req.ReqLen {
					n = req.ReqLen
				}
				req.InLen = n
			}
			req.Status = scsi.StatusGood
			req.complete(req)
		}
	}()
}
