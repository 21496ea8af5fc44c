package events

import (
	"fmt"
	"net/http"
	"strings"
)

// SSEHandler streams broker events. Clients may filter with
// ?kinds=progress,status.
func SSEHandler(broker *Broker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var filter map[string]bool
		if q := r.URL.Query().Get("kinds"); q != "" {
			filter = make(map[string]bool)
			for _, k := range strings.Split(q, ",") {
				if k = strings.TrimSpace(k); k != "" {
					filter[k] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")

		id, ch := broker.Subscribe()
		defer broker.Unsubscribe(id)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				if filter != nil && !filter[evt.Kind] {
					continue
				}
				fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Kind, evt.Payload)
				flusher.Flush()
			}
		}
	}
}
