package model

import (
	"errors"

	"github.com/m-mizutani/goerr/v2"
)

// Error kinds of the question answering pipeline. Every error returned from a
// pipeline component carries exactly one of these tags.
var (
	ErrTagExtraction        = goerr.NewTag("extraction")
	ErrTagIndexProvisioning = goerr.NewTag("index_provisioning")
	ErrTagIndexWrite        = goerr.NewTag("index_write")
	ErrTagRewrite           = goerr.NewTag("rewrite")
	ErrTagGeneration        = goerr.NewTag("generation")
	ErrTagIncomplete        = goerr.NewTag("incomplete")
	ErrTagInvalidConfig     = goerr.NewTag("invalid_config")
)

var (
	ErrInvalidProvider  = goerr.New("invalid provider", goerr.T(ErrTagInvalidConfig))
	ErrStreamNotDrained = goerr.New("answer stream is not fully consumed", goerr.T(ErrTagIncomplete))
)

// hasTag walks the wrap chain because an outer wrap does not always carry the
// tag of its cause.
func hasTag(err error, match func(error) bool) bool {
	for err != nil {
		if match(err) {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func IsExtractionError(err error) bool {
	return hasTag(err, func(e error) bool { return goerr.HasTag(e, ErrTagExtraction) })
}

func IsIndexProvisioningError(err error) bool {
	return hasTag(err, func(e error) bool { return goerr.HasTag(e, ErrTagIndexProvisioning) })
}

func IsIndexWriteError(err error) bool {
	return hasTag(err, func(e error) bool { return goerr.HasTag(e, ErrTagIndexWrite) })
}

func IsRewriteError(err error) bool {
	return hasTag(err, func(e error) bool { return goerr.HasTag(e, ErrTagRewrite) })
}

func IsGenerationError(err error) bool {
	return hasTag(err, func(e error) bool { return goerr.HasTag(e, ErrTagGeneration) })
}

func IsIncompleteError(err error) bool {
	return hasTag(err, func(e error) bool { return goerr.HasTag(e, ErrTagIncomplete) })
}

func IsInvalidConfigError(err error) bool {
	return hasTag(err, func(e error) bool { return goerr.HasTag(e, ErrTagInvalidConfig) })
}

// UserMessage converts an error into a short notification for the user.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsExtractionError(err):
		return "Could not read the document: " + err.Error()
	case IsIndexProvisioningError(err):
		return "The vector index is not available: " + err.Error()
	case IsIndexWriteError(err):
		return "Failed to index the document: " + err.Error()
	case IsRewriteError(err):
		return "Failed to interpret the question: " + err.Error()
	case IsGenerationError(err):
		return "Failed to generate an answer: " + err.Error()
	case IsInvalidConfigError(err):
		return "Invalid configuration: " + err.Error()
	default:
		return "Error: " + err.Error()
	}
}
