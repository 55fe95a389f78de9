// Package server provides the HTTP API of the ECG monitor.
//
// This package is internal to the monitor and handles all HTTP concerns:
//
//   - Health check: "/health" reports source status and the current BPM
//   - REST API: JSON views of the latest snapshot under "/api/"
//   - Report: "/api/report" streams a zip of CSV files
//   - Live streams: Server-Sent Events at "/api/sse" and a websocket at "/api/ws"
//   - Control: "/api/stop", "/api/reset" and "/api/start" (POST only)
//   - Metrics: Prometheus exposition at "/metrics" when enabled
//
// The server supports graceful shutdown via context cancellation, with a
// 5-second timeout for in-flight requests.
//
// Users of the pulseecg library should not need to interact with this
// package directly. The server is started automatically by [pulseecg.Monitor.Start].
package server
