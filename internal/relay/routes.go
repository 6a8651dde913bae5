// Package relay wires the gateway's handlers into a ServeMux.
package relay

import "net/http"

// SetupRoutes builds the HTTP surface: health check, upgrade endpoint,
// stats, and the optional billing webhook boundary (nil disables it).
func SetupRoutes(gw *Gateway, webhook http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", gw.HandleHealth)
	mux.HandleFunc("/ws", gw.HandleWebSocket)
	mux.HandleFunc("/stats", gw.HandleStats)
	if webhook != nil {
		mux.Handle("/webhooks/billing", webhook)
	}
	return mux
}
