package cdscsi

import "github.com/pkg/errors"

var (
	errAlreadyLoaded    = errors.New("cdscsi: lu already loaded")
	errNotLoaded        = errors.New("cdscsi: lu not loaded")
	errRemovalPrevented = errors.New("cdscsi: media removal prevented")
	errIllegalLun       = errors.New("cdscsi: illegal lun")
	errNotRealized      = errors.New("cdscsi: lun not realized")
	errMaxLuns          = errors.New("cdscsi: max_luns out of range")
)
