package status

import "fmt"

// NetworkError reports a failed retrieval: the connection could not be made,
// timed out, or the endpoint answered with a non-2xx status.
type NetworkError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ParseError reports a snapshot body that is not valid status JSON.
type ParseError struct {
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing snapshot from %s: %v", e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
