package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("load deal: %w", NotFound("deal not found"))

	assert.True(t, Is(err, KindNotFound))
	assert.False(t, Is(err, KindConflict))
	assert.Equal(t, KindUnknown, GetKind(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, NotFound("x").HTTPStatus())
	assert.Equal(t, http.StatusBadRequest, Validation("x").HTTPStatus())
	assert.Equal(t, http.StatusConflict, Conflict("x").HTTPStatus())
	assert.Equal(t, http.StatusForbidden, Forbidden("x").HTTPStatus())
	assert.Equal(t, http.StatusGone, New(KindGone, "x").HTTPStatus())
	assert.Equal(t, http.StatusInternalServerError, Internalf("op", errors.New("boom")).HTTPStatus())
}

func TestInternalfHidesCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internalf("read archived ruleset", cause)

	assert.Equal(t, "read archived ruleset: internal error", err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("NoSuchKey")
	err := Wrap(KindGone, "ruleset v3 is no longer in the archive", cause).WithOp("archive")

	e, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, KindGone, e.Kind)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "archive: ruleset v3 is no longer in the archive", err.Error())
}
