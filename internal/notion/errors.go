package notion

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jomei/notionapi"
)

// apiError unwraps a Notion API error, if err carries one.
func apiError(err error) (*notionapi.Error, bool) {
	var apiErr *notionapi.Error
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// IsRateLimited reports whether err is a 429 from the Notion API.
func IsRateLimited(err error) bool {
	apiErr, ok := apiError(err)
	return ok && (apiErr.Status == http.StatusTooManyRequests || apiErr.Code == "rate_limited")
}

// IsNotFound reports whether err means the object does not exist or is
// not shared with the integration.
func IsNotFound(err error) bool {
	apiErr, ok := apiError(err)
	return ok && (apiErr.Status == http.StatusNotFound || apiErr.Code == "object_not_found")
}

// IsForbidden reports whether err is a permission failure.
func IsForbidden(err error) bool {
	apiErr, ok := apiError(err)
	return ok && (apiErr.Status == http.StatusForbidden ||
		apiErr.Code == "restricted_resource" ||
		apiErr.Code == "unauthorized")
}

// IsMissing is IsNotFound or IsForbidden: the node is treated as empty.
func IsMissing(err error) bool {
	return IsNotFound(err) || IsForbidden(err)
}

// IsNoAccess reports whether a database lookup failed because the
// integration cannot read it.
func IsNoAccess(err error) bool {
	if IsNotFound(err) {
		return true
	}
	apiErr, ok := apiError(err)
	if !ok {
		return false
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "no accessible data source")
}

// isNotFoundOrWrongTypeError checks if the error indicates a resource was not found
// or is the wrong type (e.g., trying to access a database as a page).
func isNotFoundOrWrongTypeError(err error) bool {
	apiErr, ok := apiError(err)
	if !ok {
		return false
	}
	return IsNotFound(err) || apiErr.Code == "validation_error"
}
