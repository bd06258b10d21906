package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/foodbot/internal/apperrors"
)

func TestRespondJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondJSON(rec, http.StatusCreated, map[string]int{"count": 2})

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"count":2}`, rec.Body.String())
}

func TestRespondFailureHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondFailure(rec, apperrors.NewStore("reviews.add", errors.New("disk I/O error")))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, http.StatusText(http.StatusInternalServerError), body["error"])
}

func TestStatusOf(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, StatusOf(apperrors.Validationf("op", "bad")))
	require.Equal(t, http.StatusUnauthorized, StatusOf(apperrors.NewNotAuthenticated("op")))
	require.Equal(t, http.StatusBadGateway, StatusOf(errors.Wrap(apperrors.NewTransport("op", errors.New("reset")), "fetch")))
	require.Equal(t, http.StatusInternalServerError, StatusOf(errors.New("plain")))
}
