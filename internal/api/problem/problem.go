// Package problem renders RFC 7807 problem documents.
package problem

import (
	"encoding/json"
	"net/http"
	"strings"
)

const (
	mediaType = "application/problem+json"
	typeRoot  = "https://errors.transfer-core.dev/"
	blankType = "about:blank"
)

// Details is the body of an application/problem+json response. Code is an extension
// member carrying the stable machine-readable error code.
type Details struct {
	Type      string `json:"type"`
	Title     string `json:"title"`
	Status    int    `json:"status"`
	Detail    string `json:"detail"`
	Instance  string `json:"instance"`
	RequestID string `json:"request_id"`
	Code      string `json:"code,omitempty"`
}

// Type expands a slug such as "transfer/insufficient-funds" to an absolute type URI.
func Type(slug string) string {
	return typeRoot + strings.TrimPrefix(slug, "/")
}

func Write(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail string) {
	WriteWithCode(w, r, status, problemType, title, detail, "")
}

// WriteWithCode writes the problem with the code extension set.
func WriteWithCode(w http.ResponseWriter, r *http.Request, status int, problemType, title, detail, code string) {
	d := Details{
		Type:   problemType,
		Title:  title,
		Status: status,
		Detail: detail,
		Code:   code,
	}
	d.fill(w, r)

	w.Header().Set("Content-Type", mediaType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(d)
}

func (d *Details) fill(w http.ResponseWriter, r *http.Request) {
	if d.Type == "" {
		d.Type = blankType
	}
	if d.Title == "" {
		d.Title = http.StatusText(d.Status)
	}
	if r != nil {
		d.Instance = r.URL.Path
		d.RequestID = r.Header.Get("X-Trace-ID")
	}
	if d.RequestID == "" {
		d.RequestID = w.Header().Get("X-Trace-ID")
	}
}
