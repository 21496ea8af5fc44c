package types

import "time"

// ObservedCall is a journal record of one quotes exchange seen by the
// interceptor, whichever primitive carried it.
type ObservedCall struct {
	Timestamp      time.Time         `json:"timestamp"`
	Primitive      string            `json:"primitive"`
	RequestID      string            `json:"request_id,omitempty"`
	TabID          string            `json:"tab_id,omitempty"`
	Method         string            `json:"method"`
	URL            string            `json:"url"`
	InstrumentIDs  []string          `json:"instrument_ids,omitempty"`
	RequestHeaders map[string]string `json:"request_headers,omitempty"`
	Status         int               `json:"status"`
	Body           string            `json:"body,omitempty"`
	Truncated      bool              `json:"truncated,omitempty"`
	OriginalSize   int               `json:"original_size,omitempty"`
	SHA256         string            `json:"sha256,omitempty"`
}
