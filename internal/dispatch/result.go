package dispatch

import "fmt"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Result is what a handler reports back. It always carries "status".
type Result map[string]any

// Success builds a result from alternating key/value pairs.
func Success(kv ...any) Result {
	r := Result{"status": StatusSuccess}
	for i := 0; i+1 < len(kv); i += 2 {
		r[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return r
}

// Failure is a soft failure: the task ran but could not do its job.
func Failure(msg string) Result {
	return Result{"status": StatusError, "message": msg}
}

func (r Result) Status() string {
	s, _ := r["status"].(string)
	return s
}

func (r Result) Message() string {
	s, _ := r["message"].(string)
	return s
}
