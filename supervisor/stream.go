package main

import (
	"encoding/json"
	"net/http"

	"job-queue/pkg/events"
)

// streamEvents serves bus events as newline-delimited JSON until the client
// goes away. Slow clients miss events rather than stall the supervisor.
func streamEvents(bus *events.Bus, buffer int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		var names []events.Name
		for _, n := range r.URL.Query()["name"] {
			names = append(names, events.Name(n))
		}
		ch, cancel := bus.Subscribe(buffer, names...)
		defer cancel()

		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		enc := json.NewEncoder(w)
		for {
			select {
			case <-r.Context().Done():
				return
			case e, ok := <-ch:
				if !ok {
					return
				}
				if err := enc.Encode(e); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}
