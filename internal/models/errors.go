package models

import "fmt"

// ParseError reports a malformed image address.
type ParseError struct {
	Address string
	Reason  string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse image address %q: %s: %v", e.Address, e.Reason, e.Err)
	}
	return fmt.Sprintf("parse image address %q: %s", e.Address, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// AcquisitionError reports a failure to fetch, decompress or decode the
// images of a stack.
type AcquisitionError struct {
	StackID string
	Op      string
	Err     error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("acquire %s: %s: %v", e.StackID, e.Op, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// MetadataError reports metadata that cannot be derived, such as a window
// from a degenerate or non-finite pixel range.
type MetadataError struct {
	StackID string
	Reason  string
	Err     error
}

func (e *MetadataError) Error() string {
	msg := "metadata"
	if e.StackID != "" {
		msg += " for " + e.StackID
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *MetadataError) Unwrap() error { return e.Err }

// ResamplingError reports a slice request that cannot be resampled from the
// volume, e.g. a plane lying entirely outside of it.
type ResamplingError struct {
	StackID string
	Reason  string
}

func (e *ResamplingError) Error() string {
	return fmt.Sprintf("resample %s: %s", e.StackID, e.Reason)
}
