package api

import (
	"encoding/json"
	"net/http"

	"github.com/heysubinoy/filekv/internal/server"
	"github.com/heysubinoy/filekv/internal/store"
)

// MetricsHandler returns current store and connection metrics as JSON.
// conns may be nil when no TCP listener is attached.
func MetricsHandler(instrumentedStore *store.InstrumentedStore, conns func() server.Stats) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		metrics := instrumentedStore.Snapshot()

		response := map[string]interface{}{
			"operations": map[string]uint64{
				"get":    metrics.Get.Count,
				"set":    metrics.Put.Count,
				"delete": metrics.Delete.Count,
			},
			"errors": map[string]uint64{
				"get":    metrics.Get.Errors,
				"set":    metrics.Put.Errors,
				"delete": metrics.Delete.Errors,
			},
			"avg_latency": map[string]string{
				"get":    metrics.Get.AvgLatency.String(),
				"set":    metrics.Put.AvgLatency.String(),
				"delete": metrics.Delete.AvgLatency.String(),
			},
			"get_hits": metrics.GetHits,
		}
		if conns != nil {
			response["connections"] = conns()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(response)
	}
}
