package cdpcontrol

import "fmt"

const (
	CodeValidation     = "VALIDATION"
	CodeTabNotFound    = "TAB_NOT_FOUND"
	CodeEvalFailure    = "EVAL_FAILURE"
	CodeEvalTimeout    = "EVAL_TIMEOUT"
	CodeCDPUnavailable = "CDP_UNAVAILABLE"
	CodeFetchFailed    = "FETCH_FAILED"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// PageInfo describes a brokerage tab reachable for evaluation.
type PageInfo struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
}

// PageResponse is the result of a fetch issued from inside the page.
type PageResponse struct {
	Status int    `json:"status"`
	OK     bool   `json:"ok"`
	Body   string `json:"body"`
}

// PanelState is what the injected panel displays.
type PanelState struct {
	TokenReady  bool   `json:"token_ready"`
	Instruments int    `json:"instruments"`
	Busy        bool   `json:"busy"`
	Current     int    `json:"current"`
	Total       int    `json:"total"`
	Message     string `json:"message"`
	Level       string `json:"level,omitempty"`
}
