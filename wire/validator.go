package wire

import "errors"

// Validator accumulates parse-time errors across the layers of a single
// frame so a caller can decide, once, whether the frame parsed cleanly.
// The zero value is ready to use; call ResetErr between frames to reuse one.
type Validator struct {
	accum []error
}

// ResetErr clears accumulated errors for reuse on the next frame.
func (v *Validator) ResetErr() { v.accum = v.accum[:0] }

// AddError records a non-nil error. Nil errors are ignored so call sites can
// pass the direct result of a fallible helper without an intermediate check.
func (v *Validator) AddError(err error) {
	if err != nil {
		v.accum = append(v.accum, err)
	}
}

// HasError reports whether any error has been recorded since the last reset.
func (v *Validator) HasError() bool { return len(v.accum) != 0 }

// Err returns the accumulated errors joined with errors.Join, or nil if none.
func (v *Validator) Err() error {
	switch len(v.accum) {
	case 0:
		return nil
	case 1:
		return v.accum[0]
	default:
		return errors.Join(v.accum...)
	}
}

// ErrPop returns Err and resets the validator in one call.
func (v *Validator) ErrPop() error {
	err := v.Err()
	v.ResetErr()
	return err
}

var (
	// ErrShortBuffer indicates a buffer too small to hold a protocol's fixed header.
	ErrShortBuffer = errors.New("wire: buffer too short for header")
)
