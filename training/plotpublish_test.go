package training

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

func TestPlotPublisherSend(t *testing.T) {
	var got PlotData
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/plot", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"success": true, "plot_id": "p1"}`))
	}))
	defer srv.Close()

	p := NewPlotPublisher(srv.URL+"/", time.Second)
	resp, err := p.Send(context.Background(), PlotData{PlotType: TrainingCurves, Title: "curves"})
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, "p1", resp.PlotID)
	assert.Equal(t, TrainingCurves, got.PlotType)
}

func TestPlotPublisherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"success": false, "message": "bad plot"}`))
	}))
	defer srv.Close()

	resp, err := NewPlotPublisher(srv.URL, time.Second).Send(context.Background(), PlotData{})
	assert.ErrorContains(t, err, "bad plot")
	require.NotNil(t, resp)
	assert.False(t, resp.Success)
}

func TestPlotPublisherHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	assert.NoError(t, NewPlotPublisher(srv.URL, time.Second).CheckHealth(context.Background()))

	srv.Close()
	assert.Error(t, NewPlotPublisher(srv.URL, time.Second).CheckHealth(context.Background()))
}
