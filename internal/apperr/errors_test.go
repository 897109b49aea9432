package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: bad rating", ErrValidation), http.StatusBadRequest},
		{fmt.Errorf("%w: order", ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("load: %w", fmt.Errorf("%w: already rated", ErrConflict)), http.StatusConflict},
		{fmt.Errorf("%w: admin only", ErrForbidden), http.StatusForbidden},
		{fmt.Errorf("%w: gateway down", ErrExternal), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatus(tc.err); got != tc.want {
			t.Fatalf("HTTPStatus(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestReason(t *testing.T) {
	err := fmt.Errorf("%w: already rated", ErrConflict)
	if got := Reason(err); got != "already rated" {
		t.Fatalf("Reason = %q", got)
	}
	if got := Reason(errors.New("plain")); got != "plain" {
		t.Fatalf("Reason = %q", got)
	}
}
