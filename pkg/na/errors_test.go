package na

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	assert.Equal(t, StatusSuccess, StatusOf(nil))
	assert.Equal(t, StatusInvalidParam, StatusOf(newError(StatusInvalidParam, "bad")))
	assert.Equal(t, StatusProtocol, StatusOf(errors.New("plain error")))
}

func TestErrorIsComparesByStatus(t *testing.T) {
	err := wrapError(StatusTimeout, errors.New("deadline"), "waiting on context %d", 3)
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrCanceled))
}

func TestErrorUnwrapsCause(t *testing.T) {
	cause := errors.New("underlying")
	err := wrapError(StatusProtocol, cause, "posting op")
	assert.True(t, errors.Is(err, cause))
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "success", StatusSuccess.String())
	assert.Equal(t, "timeout", StatusTimeout.String())
	assert.Equal(t, "unknown", Status(99).String())
}
