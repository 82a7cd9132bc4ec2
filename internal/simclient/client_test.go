package simclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/run", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"Batt": {"Time": [[0],[1]], "Data": [[50],[55]]}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	result, err := c.Run(context.Background(), map[string]float64{"PVOutput": 12.5}, true, 50)
	require.NoError(t, err)

	assert.Equal(t, 12.5, got.TunableParameters["PVOutput"])
	assert.True(t, got.ConfigureForDeployment)
	assert.Equal(t, 50, got.StopTimeS)

	batt, ok := result["Batt"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, batt["Time"], 2)
}

func TestRun_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine busy", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Run(context.Background(), nil, false, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestRun_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.Run(context.Background(), nil, false, 50)
	assert.Error(t, err)
}

func TestRun_TransportError(t *testing.T) {
	c := New("http://127.0.0.1:1", 200*time.Millisecond)
	_, err := c.Run(context.Background(), nil, false, 50)
	assert.Error(t, err)
}
