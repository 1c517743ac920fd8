package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// ErrorType names the domain failures peers report through status
// codes.
type ErrorType string

const (
	TxPending     ErrorType = "TX_PENDING"
	TxNotFound    ErrorType = "TX_NOT_FOUND"
	TxFailed      ErrorType = "TX_FAILED"
	TxInvalid     ErrorType = "TX_INVALID"
	BlockNotFound ErrorType = "BLOCK_NOT_FOUND"
)

// Error is a domain failure such as a missing block or transaction.
type Error struct {
	Type ErrorType
	Msg  string
}

func (e *Error) Error() string {
	if e.Msg == "" {
		return string(e.Type)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Msg)
}

// IsType reports whether err is a domain Error of type t.
func IsType(err error, t ErrorType) bool {
	var e *Error
	return errors.As(err, &e) && e.Type == t
}

// IsNotFound reports whether err says a block or transaction does not
// exist.
func IsNotFound(err error) bool {
	return IsType(err, TxNotFound) || IsType(err, BlockNotFound)
}

// StatusError is an unexpected HTTP status from a peer.
type StatusError struct {
	Status int
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: status %d", e.Msg, e.Status)
}

// TransportError is a request that got no HTTP status at all.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// FatalChunkErrors are the chunk upload rejections that retrying
// cannot fix.
var FatalChunkErrors = []string{
	"invalid_json",
	"chunk_too_big",
	"data_path_too_big",
	"offset_too_big",
	"data_size_too_big",
	"chunk_proof_ratio_not_attractive",
	"invalid_proof",
}

// ChunkError is a chunk upload a peer refused.
type ChunkError struct {
	Status int
	Code   string
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk upload failed: %d: %s", e.Status, e.Code)
}

// Fatal reports whether the peer's code is one of FatalChunkErrors.
func (e *ChunkError) Fatal() bool {
	for _, code := range FatalChunkErrors {
		if e.Code == code {
			return true
		}
	}
	return false
}

// IsFatal reports whether err carries a non-retryable chunk code.
func IsFatal(err error) bool {
	var ce *ChunkError
	return errors.As(err, &ce) && ce.Fatal()
}

// IsRetryable is the retry predicate for peer requests: everything
// but fatal chunk codes and domain errors is worth another try.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var de *Error
	if errors.As(err, &de) {
		return false
	}
	return !IsFatal(err)
}

// GetError extracts the peer's reason from a response: the "error"
// field of a JSON body, else the body text, else the status text.
func GetError(resp *Response) string {
	if resp == nil {
		return ""
	}
	var body struct {
		Error interface{} `json:"error"`
	}
	if json.Unmarshal(resp.Data, &body) == nil && body.Error != nil {
		if s, ok := body.Error.(string); ok {
			return s
		}
		buf, _ := json.Marshal(body.Error)
		return string(buf)
	}
	if txt := strings.TrimSpace(string(resp.Data)); txt != "" {
		return txt
	}
	return http.StatusText(resp.Status)
}
