package rest_test

import (
	"net/http"
	"testing"

	"github.com/kasuganosora/socialgov/api/rest"
	"github.com/kasuganosora/socialgov/apperr"
	"github.com/stretchr/testify/assert"
)

func TestStatusOf(t *testing.T) {
	cases := map[apperr.Kind]int{
		apperr.KindValidation:        http.StatusBadRequest,
		apperr.KindPermissionDenied:  http.StatusForbidden,
		apperr.KindNotFound:          http.StatusNotFound,
		apperr.KindConflict:          http.StatusConflict,
		apperr.KindState:             http.StatusConflict,
		apperr.KindCapacityExceeded:  http.StatusConflict,
		apperr.KindInsufficientFunds: http.StatusUnprocessableEntity,
		apperr.KindPerkUnavailable:   http.StatusUnprocessableEntity,
		apperr.KindUnavailable:       http.StatusServiceUnavailable,
		apperr.KindInternal:          http.StatusInternalServerError,
	}
	for kind, status := range cases {
		assert.Equal(t, status, rest.StatusOf(kind), kind)
	}
}
