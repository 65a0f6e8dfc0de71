package decode

import (
	"net/http/httptest"
	"testing"

	"github.com/Revolutionary-Games/RevolutionaryWebApp-sub004/internal"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type params struct {
	Project int64  `schema:"project,required"`
	Key     string `schema:"key,required"`
}

func TestAll(t *testing.T) {
	r := httptest.NewRequest("GET", "/jobs/3?key=abc&project=9", nil)
	r = mux.SetURLVars(r, map[string]string{"project": "3"})

	var got params
	require.NoError(t, All(&got, r))

	// path variables win
	assert.Equal(t, params{Project: 3, Key: "abc"}, got)
}

func TestAll_Missing(t *testing.T) {
	r := httptest.NewRequest("GET", "/jobs/3", nil)
	r = mux.SetURLVars(r, map[string]string{"project": "3"})

	var got params
	var missing *internal.MissingParameterError
	require.ErrorAs(t, All(&got, r), &missing)
	assert.Equal(t, "key", missing.Parameter)
}

func TestRoute(t *testing.T) {
	r := httptest.NewRequest("GET", "/jobs/x", nil)
	r = mux.SetURLVars(r, map[string]string{"project": "x", "key": "k"})

	var got params
	assert.Error(t, Route(&got, r))
}
