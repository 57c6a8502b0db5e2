package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOfExtractsKind(t *testing.T) {
	err := NotFoundf("notification %s", "n1")
	assert.Equal(t, NotFound, KindOf(err))
}

func TestKindOfDefaultsToTransientForUnclassifiedError(t *testing.T) {
	assert.Equal(t, Transient, KindOf(errors.New("boom")))
}

func TestErrorsIsMatchesOnKind(t *testing.T) {
	err := Transientf(errors.New("cause"), "wrapped")
	assert.True(t, errors.Is(err, Transientf(nil, "other message")))
	assert.False(t, errors.Is(err, NotFoundf("nope")))
}

func TestUnwrapExposesCause(t *testing.T) {
	cause := errors.New("root cause")
	err := Permanentf(cause, "failed")
	assert.ErrorIs(t, err, cause)
}

func TestErrorStringIncludesKindAndCause(t *testing.T) {
	err := Transientf(errors.New("timeout"), "op failed")
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "timeout")
}

func TestStaleAndUnauthorizedConstructors(t *testing.T) {
	assert.Equal(t, StaleChange, KindOf(Stale("change already applied")))
	assert.Equal(t, Unauthorized, KindOf(Unauthorizedf("no access to %s", "entry")))
}
