package msd

import "github.com/pkg/errors"

var (
	errUnexpectedState = errors.New("msd: unexpected state for this transfer")
	errShortRead       = errors.New("msd: bulk-in request shorter than a CSW")
)
