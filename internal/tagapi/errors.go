package tagapi

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// NetworkError means the request never got a response from the backend.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response. Message holds the backend's
// explanation when the body carried one.
type ServerError struct {
	Op      string
	Status  int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s failed (%d)", e.Op, e.Status)
	}
	return fmt.Sprintf("%s failed (%d): %s", e.Op, e.Status, e.Message)
}

// maxBodyMessage caps, in runes, how much of a non-JSON error body is shown.
const maxBodyMessage = 200

// errorMessage pulls a human-readable message out of an error body.
// FastAPI-style backends use "detail", others "message"; a validation
// detail can also be a list of {msg} objects.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		msg := strings.TrimSpace(string(body))
		if utf8.RuneCountInString(msg) > maxBodyMessage {
			msg = string([]rune(msg)[:maxBodyMessage]) + "..."
		}
		return msg
	}
	for _, path := range []string{"detail", "message"} {
		r := gjson.GetBytes(body, path)
		switch {
		case !r.Exists():
			continue
		case r.Type == gjson.String:
			return r.String()
		case r.IsArray():
			var msgs []string
			for _, item := range r.Array() {
				if m := item.Get("msg"); m.Exists() {
					msgs = append(msgs, m.String())
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	return ""
}
