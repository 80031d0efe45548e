package apperr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := errors.Wrap(Conflict("analysis %s already running", "a1"), "start analysis")

	assert.ErrorIs(t, err, ErrConflict)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestHTTPStatus(t *testing.T) {
	cases := map[error]int{
		Validation("bad"):            http.StatusBadRequest,
		NotFound("missing"):          http.StatusNotFound,
		Forbidden("nope"):            http.StatusForbidden,
		fmt.Errorf("db exploded"):    http.StatusInternalServerError,
		ConflictWithStatus("x", "y"): http.StatusConflict,
	}
	for err, want := range cases {
		assert.Equal(t, want, HTTPStatus(err), err.Error())
	}
}

func TestStatusOf(t *testing.T) {
	err := fmt.Errorf("get results: %w", ConflictWithStatus("running", "analysis is not completed"))
	assert.Equal(t, "running", StatusOf(err))
	assert.Empty(t, StatusOf(NotFound("x")))
}
