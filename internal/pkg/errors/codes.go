package errors

import (
	"fmt"
	"net/http"
)

// Code represents an error code with HTTP status and message
type Code struct {
	Code    int    // Business error code
	Status  int    // HTTP status code
	Message string // Error message
}

// Error codes for different modules
const (
	// Success
	Success = 0

	// Common errors (1000-1999)
	ErrInternalServer  = 1000
	ErrInvalidParams   = 1001
	ErrNotFound        = 1002
	ErrUnauthorized    = 1003
	ErrForbidden       = 1004
	ErrConflict        = 1005
	ErrTooManyRequests = 1006
	ErrBadRequest      = 1007
	ErrServiceUnavail  = 1008

	// Storage errors (4000-4099)
	ErrFileNotFound        = 4000
	ErrBackendNotFound     = 4001
	ErrNoBackendAvailable  = 4002
	ErrChannelNotBound     = 4003
	ErrInvalidChunkIndex   = 4004
	ErrIncompleteUpload    = 4005
	ErrChunksUnavailable   = 4006
	ErrChunkFetchFailed    = 4007
	ErrRepairFailed        = 4008
	ErrInvalidRange        = 4009
	ErrChunkSizeMismatch   = 4010
	ErrFileNotForkable     = 4011

	// Relay transport errors (4100-4199)
	ErrRelayInvalidCredential = 4100
	ErrRelayRateLimited       = 4101
	ErrRelayBlobNotFound      = 4102
	ErrRelayUnavailable       = 4103
)

// codeMap maps error codes to their details
var codeMap = map[int]Code{
	Success: {Success, http.StatusOK, "Success"},

	// Common errors
	ErrInternalServer:  {ErrInternalServer, http.StatusInternalServerError, "Internal server error"},
	ErrInvalidParams:   {ErrInvalidParams, http.StatusBadRequest, "Invalid parameters"},
	ErrNotFound:        {ErrNotFound, http.StatusNotFound, "Resource not found"},
	ErrUnauthorized:    {ErrUnauthorized, http.StatusUnauthorized, "Unauthorized"},
	ErrForbidden:       {ErrForbidden, http.StatusForbidden, "Forbidden"},
	ErrConflict:        {ErrConflict, http.StatusConflict, "Resource conflict"},
	ErrTooManyRequests: {ErrTooManyRequests, http.StatusTooManyRequests, "Too many requests"},
	ErrBadRequest:      {ErrBadRequest, http.StatusBadRequest, "Bad request"},
	ErrServiceUnavail:  {ErrServiceUnavail, http.StatusServiceUnavailable, "Service unavailable"},

	// Storage errors
	ErrFileNotFound:       {ErrFileNotFound, http.StatusNotFound, "File not found"},
	ErrBackendNotFound:    {ErrBackendNotFound, http.StatusNotFound, "Storage backend not found"},
	ErrNoBackendAvailable: {ErrNoBackendAvailable, http.StatusServiceUnavailable, "No healthy storage backend available"},
	ErrChannelNotBound:    {ErrChannelNotBound, http.StatusConflict, "Storage backend has no bound channel"},
	ErrInvalidChunkIndex:  {ErrInvalidChunkIndex, http.StatusBadRequest, "Chunk index out of range"},
	ErrIncompleteUpload:   {ErrIncompleteUpload, http.StatusBadRequest, "Upload is incomplete"},
	ErrChunksUnavailable:  {ErrChunksUnavailable, http.StatusServiceUnavailable, "One or more chunks are unavailable"},
	ErrChunkFetchFailed:   {ErrChunkFetchFailed, http.StatusBadGateway, "Failed to fetch chunk from backend"},
	ErrRepairFailed:       {ErrRepairFailed, http.StatusBadGateway, "Failed to repair chunk reference"},
	ErrInvalidRange:       {ErrInvalidRange, http.StatusRequestedRangeNotSatisfiable, "Requested range not satisfiable"},
	ErrChunkSizeMismatch:  {ErrChunkSizeMismatch, http.StatusBadRequest, "Chunk size does not match upload plan"},
	ErrFileNotForkable:    {ErrFileNotForkable, http.StatusForbidden, "File is not public and cannot be forked"},

	// Relay transport errors
	ErrRelayInvalidCredential: {ErrRelayInvalidCredential, http.StatusBadGateway, "Relay rejected the backend credential"},
	ErrRelayRateLimited:       {ErrRelayRateLimited, http.StatusTooManyRequests, "Relay rate limit exceeded"},
	ErrRelayBlobNotFound:      {ErrRelayBlobNotFound, http.StatusBadGateway, "Relay blob reference not found"},
	ErrRelayUnavailable:       {ErrRelayUnavailable, http.StatusBadGateway, "Relay transport unavailable"},
}

// GetCode returns the Code for a given error code
func GetCode(code int) Code {
	if c, ok := codeMap[code]; ok {
		return c
	}
	return codeMap[ErrInternalServer]
}

// GetHTTPStatus returns HTTP status for a given error code
func GetHTTPStatus(code int) int {
	return GetCode(code).Status
}

// GetMessage returns the message for a given error code
func GetMessage(code int) string {
	return GetCode(code).Message
}

// IsSuccess checks if the code represents success
func IsSuccess(code int) bool {
	return code == Success
}

// IsClientError checks if the code represents a client error (4xx)
func IsClientError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 400 && status < 500
}

// IsServerError checks if the code represents a server error (5xx)
func IsServerError(code int) bool {
	status := GetHTTPStatus(code)
	return status >= 500
}

// FormatError formats an error message with code
func FormatError(code int, details ...string) string {
	msg := GetMessage(code)
	if len(details) > 0 && details[0] != "" {
		return fmt.Sprintf("%s: %s", msg, details[0])
	}
	return msg
}
