package proxy

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strconv"

	"github.com/codefionn/vermittler/vermittler-srv/logger"
)

// Error is a proxy failure with a stable code. The code is sent to clients
// in the X-Proxy-Error header of generated error pages.
type Error struct {
	Code        string
	Description string
	Cause       error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Description, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Description)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewProxyError creates a new Error with the given code and description
func NewProxyError(code, description string, cause error) *Error {
	return &Error{
		Code:        code,
		Description: description,
		Cause:       cause,
	}
}

// Error codes
const (
	// Connection and addressing (E2000-E2999)
	ErrCodeInvalidAddress        = "E2006"
	ErrCodeInvalidPort           = "E2007"
	ErrCodeDialFailed            = "E2009"
	ErrCodeUpstreamConnectFailed = "E2010"

	// TLS (E3000-E3999)
	ErrCodeTLSConfigFailed = "E3006"

	// HTTP relay (E4000-E4999)
	ErrCodeHTTPBodyCopyFailed = "E4006"
	ErrCodeHTTPForwardFailed  = "E4007"
	ErrCodeHTTPHijackFailed   = "E4008"
	ErrCodeMissingHost        = "E4012"
	ErrCodeUnsupportedScheme  = "E4013"
	ErrCodeOriginRelayFailed  = "E4014"

	// Upstream proxy chain (E6000-E6999)
	ErrCodeSOCKS5DialerFailed    = "E6001"
	ErrCodeSOCKS5ConnectFailed   = "E6002"
	ErrCodeHTTPProxyDialFailed   = "E6003"
	ErrCodeCONNECTRequestFailed  = "E6005"
	ErrCodeCONNECTResponseFailed = "E6006"
	ErrCodeProxyAuthFailed       = "E6007"
	ErrCodeProxyDenied           = "E6008"

	// Access control (E7000-E7999)
	ErrCodeHostNotAllowed       = "E7001"
	ErrCodeAuthenticationFailed = "E7005"
)

// ErrorDescriptions maps error codes to human readable descriptions.
var ErrorDescriptions = map[string]string{
	ErrCodeInvalidAddress:        "Invalid target address",
	ErrCodeInvalidPort:           "Invalid target port",
	ErrCodeDialFailed:            "Failed to connect to target",
	ErrCodeUpstreamConnectFailed: "Failed to establish connection to target",

	ErrCodeTLSConfigFailed: "Invalid TLS configuration",

	ErrCodeHTTPForwardFailed:  "Failed to forward HTTP request",
	ErrCodeHTTPHijackFailed:   "Failed to take over client connection",
	ErrCodeMissingHost:        "Request has no target host",
	ErrCodeUnsupportedScheme:  "Unsupported URL scheme",
	ErrCodeOriginRelayFailed:  "Failed to relay request to origin",
	ErrCodeHTTPBodyCopyFailed: "Failed to copy response body",

	ErrCodeSOCKS5DialerFailed:    "Failed to create SOCKS5 dialer",
	ErrCodeSOCKS5ConnectFailed:   "Failed to connect through SOCKS5 proxy",
	ErrCodeHTTPProxyDialFailed:   "Failed to connect to upstream HTTP proxy",
	ErrCodeCONNECTRequestFailed:  "Failed to send CONNECT to upstream proxy",
	ErrCodeCONNECTResponseFailed: "Failed to read CONNECT response from upstream proxy",
	ErrCodeProxyAuthFailed:       "Upstream proxy rejected credentials",
	ErrCodeProxyDenied:           "Upstream proxy denied CONNECT",

	ErrCodeHostNotAllowed:       "Target host is not allowed",
	ErrCodeAuthenticationFailed: "Proxy authentication required",
}

// NewConnectionError creates a connection-related error
func NewConnectionError(code string, cause error) *Error {
	return NewProxyError(code, GetErrorDescription(code), cause)
}

// NewProxyChainError creates an upstream proxy chain error
func NewProxyChainError(code string, cause error) *Error {
	return NewProxyError(code, GetErrorDescription(code), cause)
}

// NewAccessControlError creates an access control error
func NewAccessControlError(code string, cause error) *Error {
	return NewProxyError(code, GetErrorDescription(code), cause)
}

// NewHTTPError creates an HTTP relay error
func NewHTTPError(code string, cause error) *Error {
	return NewProxyError(code, GetErrorDescription(code), cause)
}

// GetErrorDescription returns the description for a given error code
func GetErrorDescription(code string) string {
	if desc, exists := ErrorDescriptions[code]; exists {
		return desc
	}
	return "Unknown error code"
}

// IsProxyChainError checks if the error happened at the upstream proxy.
func IsProxyChainError(err error) bool {
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		return proxyErr.Code >= "E6000" && proxyErr.Code < "E7000"
	}
	return false
}

// StatusForCode returns the HTTP status a client receives for code.
func StatusForCode(code string) int {
	switch {
	case code == ErrCodeInvalidAddress, code == ErrCodeInvalidPort,
		code == ErrCodeMissingHost, code == ErrCodeUnsupportedScheme:
		return http.StatusBadRequest
	case code >= "E7000" && code < "E8000":
		return http.StatusForbidden
	default:
		return http.StatusBadGateway
	}
}

const errorPageTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>%s</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; background-color: #f4f4f4; color: #333; }
        .container { background-color: #fff; padding: 20px; border-radius: 5px; }
        h1 { color: #d9534f; }
        .error-code { font-weight: bold; color: #c9302c; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s</h1>
        <p><span class="error-code">Error Code:</span> %s</p>
        <p><span class="error-code">Description:</span> %s</p>
    </div>
</body>
</html>`

// NewErrorResponse creates an HTML error response for code with the status
// the code maps to.
func NewErrorResponse(errorCode string) *http.Response {
	status := StatusForCode(errorCode)
	title := strconv.Itoa(status) + " " + http.StatusText(status)
	body := []byte(fmt.Sprintf(errorPageTemplate, title, title,
		html.EscapeString(errorCode), html.EscapeString(GetErrorDescription(errorCode))))

	header := make(http.Header)
	header.Set("Content-Type", "text/html; charset=utf-8")
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("X-Proxy-Error", errorCode)

	return &http.Response{
		Status:        title,
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
}

// WriteErrorResponse writes the error page for err. Errors without a code
// are reported as defaultErrorCode.
func WriteErrorResponse(w http.ResponseWriter, err error, defaultErrorCode string) {
	errorCode := defaultErrorCode
	var proxyErr *Error
	if errors.As(err, &proxyErr) {
		errorCode = proxyErr.Code
	}

	if _, exists := ErrorDescriptions[errorCode]; !exists {
		logger.Warn("Error code '%s' has no description (error: %v)", errorCode, err)
	}

	resp := NewErrorResponse(errorCode)
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logger.Error("Failed to write error page: %v", err)
	}
}
