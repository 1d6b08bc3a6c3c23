package proxyerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("boom")
	e := NewParse(WhoClient, WhenRequestHeaders, 42, cause)
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "offset 42")
}

func TestMaskTracksMultipleKindsAndPhases(t *testing.T) {
	var errMask, phaseMask Mask
	e1 := New(WhoClient, WhenConnection, KindRead, nil)
	e2 := New(WhoServer, WhenData, KindTimeout, nil)

	errMask = ErrorMaskBit(errMask, e1)
	errMask = ErrorMaskBit(errMask, e2)
	phaseMask = PhaseMaskBit(phaseMask, e1)
	phaseMask = PhaseMaskBit(phaseMask, e2)

	assert.True(t, errMask.HasKind(KindRead))
	assert.True(t, errMask.HasKind(KindTimeout))
	assert.False(t, errMask.HasKind(KindWrite))
	assert.True(t, phaseMask.HasWhen(WhenConnection))
	assert.True(t, phaseMask.HasWhen(WhenData))
	assert.False(t, phaseMask.HasWhen(WhenQueue))
}
