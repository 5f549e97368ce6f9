package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchReport(t *testing.T) {
	ts := httptest.NewServer(buildRouter(context.Background(), newFakeController(), []string{"*"}))
	defer ts.Close()

	var buf bytes.Buffer
	require.NoError(t, fetchReport(context.Background(), ts.Client(), ts.URL+"/", &buf))
	assert.Contains(t, buf.String(), "# Facility Reconciliation Report")
}

func TestFetchReport_BadStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	err := fetchReport(context.Background(), ts.Client(), ts.URL, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 503")
}
