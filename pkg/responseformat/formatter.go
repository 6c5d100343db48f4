package responseformat

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Formatter handles encoding and writing responses in JSON or MessagePack format
type Formatter struct{}

// NewFormatter creates a new response formatter
func NewFormatter() *Formatter {
	return &Formatter{}
}

// WantsMsgPack reports whether the client asked for MessagePack, either with
// format=msgpack or an Accept header.
func WantsMsgPack(req *http.Request) bool {
	if req.URL.Query().Get("format") == "msgpack" {
		return true
	}
	return strings.Contains(req.Header.Get("Accept"), "application/x-msgpack")
}

// WriteResponse writes data with the given status code. JSON is the default
// format. MessagePack keeps non-finite floats that JSON has to drop to null.
func (f *Formatter) WriteResponse(w http.ResponseWriter, req *http.Request, status int, data any, headers map[string]string) error {
	// Set any provided headers first
	for k, v := range headers {
		w.Header().Set(k, v)
	}

	// Always set CORS header
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if WantsMsgPack(req) {
		return f.writeMsgPack(w, status, data)
	}
	return f.writeJSON(w, status, data)
}

// WriteError writes an error body in the requested format.
func (f *Formatter) WriteError(w http.ResponseWriter, req *http.Request, status int, err error) error {
	return f.WriteResponse(w, req, status, ErrorBody{Error: err.Error(), Status: status}, nil)
}

// ErrorBody is the payload of a failed request.
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func (f *Formatter) writeJSON(w http.ResponseWriter, status int, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(append(body, '\n'))
	return err
}

func (f *Formatter) writeMsgPack(w http.ResponseWriter, status int, data any) error {
	body, err := Marshal(data)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return err
	}
	w.Header().Set("Content-Type", "application/x-msgpack")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// Marshal encodes data as MessagePack using the json struct tags.
func Marshal(data any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := msgpack.NewEncoder(&buf)
	encoder.SetCustomStructTag("json") // Use json tags for MessagePack
	if err := encoder.Encode(data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes MessagePack written by Marshal.
func Unmarshal(b []byte, v any) error {
	decoder := msgpack.NewDecoder(bytes.NewReader(b))
	decoder.SetCustomStructTag("json")
	return decoder.Decode(v)
}
