package errors

import (
	stderrors "errors"
	"net/http"

	"github.com/dl-alexandre/drivews/internal/logging"
	"google.golang.org/api/googleapi"
)

// ClassifyGoogleAPIError maps a Drive API failure onto a workspace Kind.
func ClassifyGoogleAPIError(op, path string, err error, logger logging.Logger) error {
	if err == nil {
		return nil
	}
	var kinded *Error
	if stderrors.As(err, &kinded) {
		return err
	}

	var apiErr *googleapi.Error
	if !stderrors.As(err, &apiErr) {
		logger.Warn("Non-API error",
			logging.F("op", op),
			logging.F("path", path),
			logging.F("error", err.Error()),
		)
		return Network(op, path, true, err)
	}

	var classified *Error
	switch apiErr.Code {
	case http.StatusUnauthorized:
		classified = Auth(op, err)
	case http.StatusForbidden:
		classified = Auth(op, err)
		for _, e := range apiErr.Errors {
			switch e.Reason {
			case "sharingRateLimitExceeded", "userRateLimitExceeded", "rateLimitExceeded":
				classified = Network(op, path, true, err)
			case "storageQuotaExceeded", "insufficientFilePermissions", "dailyLimitExceeded":
				classified = Network(op, path, false, err)
			}
		}
	case http.StatusNotFound:
		classified = Network(op, path, false, err)
	case http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		classified = Network(op, path, true, err)
	default:
		classified = Network(op, path, apiErr.Code >= 500, err)
	}

	logger.Debug("API error classified",
		logging.F("httpStatus", apiErr.Code),
		logging.F("kind", classified.Kind.String()),
		logging.F("retryable", classified.Retryable),
		logging.F("op", op),
		logging.F("path", path),
	)
	return classified
}
