package main

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jrsteele09/go-finstats-client/chat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestPrintBanner_WritesToGivenWriter(t *testing.T) {
	var out strings.Builder
	printBanner(&out, "assistant")

	require.NotEmpty(t, strings.TrimSpace(out.String()))
	require.True(t, strings.HasSuffix(out.String(), "\n"))
}

func TestMetricsHandler_ServesChannelCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	chat.NewMetrics(reg)

	server := httptest.NewServer(metricsHandler(reg))
	defer server.Close()

	resp, err := http.Get(server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "finstats_chat_connects_total")
	require.Contains(t, string(body), "finstats_chat_connection_state")
}
