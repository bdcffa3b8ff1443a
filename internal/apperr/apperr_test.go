package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromStatus(t *testing.T) {
	cause := errors.New("boom")
	tests := []struct {
		status int
		kind   Kind
	}{
		{401, KindAuthorization},
		{403, KindAuthorization},
		{408, KindTransport},
		{429, KindTransport},
		{500, KindTransport},
		{503, KindTransport},
		{409, KindConflict},
		{400, KindRemote},
		{404, KindRemote},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.status), func(t *testing.T) {
			err := FromStatus("list labels", tt.status, cause)
			assert.Equal(t, tt.kind, err.Kind)
			assert.Equal(t, tt.status, StatusCode(err))
			assert.ErrorIs(t, err, cause)
		})
	}
}

func TestClassificationThroughWrapping(t *testing.T) {
	err := fmt.Errorf("moving thread: %w", Transport("modify labels", errors.New("reset")))
	assert.True(t, IsTransient(err))
	assert.False(t, IsAuth(err))

	err = fmt.Errorf("syncing: %w", Consistency("classify", ErrBundleNotFound))
	assert.True(t, IsConsistency(err))
	assert.ErrorIs(t, err, ErrBundleNotFound)

	assert.Equal(t, Kind(0), KindOf(errors.New("plain")))
	assert.Equal(t, 0, StatusCode(errors.New("plain")))
}

func TestErrorMessage(t *testing.T) {
	err := FromStatus("create filter", 500, errors.New("backend"))
	assert.Equal(t, "create filter: transport (status 500): backend", err.Error())
}
