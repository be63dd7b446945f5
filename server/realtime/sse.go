package realtime

import (
	"fmt"
	"net/http"
)

// ServeHTTP streams hub events as Server Sent Events
func (h *Hub) ServeHTTP(rw http.ResponseWriter, req *http.Request) {
	// Make sure that the writer supports flushing
	flusher, ok := rw.(http.Flusher)
	if !ok {
		http.Error(rw, "Streaming unsupported!", http.StatusInternalServerError)
		return
	}

	messageChan, ok := h.subscribe()
	if !ok {
		http.Error(rw, "Realtime channel closed", http.StatusServiceUnavailable)
		return
	}
	defer h.unsubscribe(messageChan)

	rw.Header().Set("Content-Type", "text/event-stream")
	rw.Header().Set("Cache-Control", "no-cache")
	rw.Header().Set("Connection", "keep-alive")
	rw.Header().Set("X-Accel-Buffering", "no")
	rw.WriteHeader(http.StatusOK)
	fmt.Fprint(rw, ": connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-req.Context().Done():
			return
		case <-h.done:
			return
		case event := <-messageChan:
			fmt.Fprintf(rw, "event: %s\ndata: %s\n\n", event.Name, event.Data)
			// Flush the data immediatly instead of buffering it for later.
			flusher.Flush()
		}
	}
}
