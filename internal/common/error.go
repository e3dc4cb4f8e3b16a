package common

import "errors"

var (
	ErrManifestUnavailable  = errors.New("manifest unavailable")
	ErrManifestMalformed    = errors.New("manifest malformed")
	ErrTransferFailed       = errors.New("transfer failed")
	ErrVerificationMismatch = errors.New("verification mismatch")
	ErrCancelled            = errors.New("cancelled")
	ErrRunActive            = errors.New("a run is already active")
)
