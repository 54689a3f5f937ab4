package fault

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap_NilPassesThrough(t *testing.T) {
	assert.NoError(t, Wrap(KindConflict, nil, "ignored"))
}

func TestWrap_PreservesChain(t *testing.T) {
	cause := errors.New("row not found")
	err := Wrap(KindNotFound, cause, "case lookup")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.ErrorIs(t, err, cause)
}

func TestKindOf_SurvivesFurtherWrapping(t *testing.T) {
	err := fmt.Errorf("submit review: %w", New(KindConflict, "duplicate reviewer"))
	assert.Equal(t, KindConflict, KindOf(err))
	assert.True(t, IsConflict(err))
}

func TestKindOf_UnclassifiedIsEmpty(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid_input", New(KindInvalidInput, "empty evidence"), http.StatusBadRequest},
		{"not_found", New(KindNotFound, "no such case"), http.StatusNotFound},
		{"conflict", New(KindConflict, "wrong state"), http.StatusConflict},
		{"external", New(KindExternalCapability, "diagnosis timed out"), http.StatusBadGateway},
		{"constraint", New(KindConstraintViolation, "duplicate artifact"), http.StatusConflict},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}
