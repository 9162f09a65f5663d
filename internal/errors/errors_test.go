package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormat(t *testing.T) {
	err := New(CodeInvalidRepo, "no such directory")
	assert.Equal(t, "[INVALID_REPO] no such directory", err.Error())
}

func TestIsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(CodeBusy, "index in progress"))
	assert.True(t, stderrors.Is(err, New(CodeBusy, "anything")))
	assert.False(t, stderrors.Is(err, New(CodeNotIndexed, "anything")))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := stderrors.New("disk on fire")
	err := Wrap(CodeInternal, cause)
	require.NotNil(t, err)
	assert.Equal(t, cause, stderrors.Unwrap(err))
	assert.Nil(t, Wrap(CodeInternal, nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[string]int{
		CodeInvalidRepo:       http.StatusBadRequest,
		CodeInvalidRequest:    http.StatusBadRequest,
		CodeNotIndexed:        http.StatusNotFound,
		CodeBusy:              http.StatusConflict,
		CodeDimensionMismatch: http.StatusConflict,
		CodeInternal:          http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, New(code, "x").HTTPStatus(), code)
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeBusy, CodeOf(fmt.Errorf("w: %w", New(CodeBusy, "b"))))
	assert.Equal(t, CodeInternal, CodeOf(stderrors.New("plain")))
}

func TestAsErrorWrapsForeign(t *testing.T) {
	xe := AsError(stderrors.New("boom"))
	require.NotNil(t, xe)
	assert.Equal(t, CodeInternal, xe.Code)
	assert.Nil(t, AsError(nil))
}

func TestWithDetail(t *testing.T) {
	err := New(CodeInvalidRepo, "bad").WithDetail("path", "/tmp/x")
	assert.Equal(t, "/tmp/x", err.Details["path"])
}
