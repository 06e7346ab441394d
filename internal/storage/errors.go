package storage

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

func errorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// IsNoSuchBucket reports whether err says the target bucket does not exist.
func IsNoSuchBucket(err error) bool {
	var noSuchBucket *types.NoSuchBucket
	if errors.As(err, &noSuchBucket) {
		return true
	}
	return errorCode(err) == "NoSuchBucket"
}

// IsAccessDenied reports whether err is an authorization failure.
func IsAccessDenied(err error) bool {
	switch errorCode(err) {
	case "AccessDenied", "AllAccessDisabled":
		return true
	}
	return false
}

// IsAuthError reports whether err comes from missing or rejected credentials.
func IsAuthError(err error) bool {
	switch errorCode(err) {
	case "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken", "InvalidToken":
		return true
	}
	return IsAccessDenied(err)
}
