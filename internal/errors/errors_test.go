package errors

import (
	"errors"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Structured Errors", func() {
	Describe("AppError", func() {
		Context("basic error creation", func() {
			It("should create error with correct properties", func() {
				err := New(ErrorTypeValidation, "test message")

				Expect(err.Type).To(Equal(ErrorTypeValidation))
				Expect(err.Message).To(Equal("test message"))
				Expect(err.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(err.Details).To(BeEmpty())
				Expect(err.Cause).To(BeNil())
			})

			It("should implement error interface correctly", func() {
				err := New(ErrorTypeValidation, "test message")
				Expect(err.Error()).To(Equal("validation: test message"))
			})

			It("should include details in error string when present", func() {
				err := New(ErrorTypeValidation, "test message").WithDetails("extra info")
				Expect(err.Error()).To(Equal("validation: test message (extra info)"))
			})
		})

		Context("error wrapping", func() {
			It("should wrap underlying error", func() {
				originalErr := errors.New("original error")
				wrappedErr := Wrap(originalErr, ErrorTypeNetwork, "operation failed")

				Expect(wrappedErr.Type).To(Equal(ErrorTypeNetwork))
				Expect(wrappedErr.Message).To(Equal("operation failed"))
				Expect(wrappedErr.Cause).To(Equal(originalErr))
				Expect(wrappedErr.Unwrap()).To(Equal(originalErr))
			})

			It("should format wrapped error with arguments", func() {
				originalErr := errors.New("connection refused")
				wrappedErr := Wrapf(originalErr, ErrorTypeNetwork, "failed to connect to %s:%d", "localhost", 5432)

				Expect(wrappedErr.Message).To(Equal("failed to connect to localhost:5432"))
				Expect(wrappedErr.Cause).To(Equal(originalErr))
			})
		})

		Context("adding details", func() {
			It("should add details to existing error", func() {
				err := New(ErrorTypeNoTokenAvailable, "authentication failed")
				detailedErr := err.WithDetails("invalid token")

				Expect(detailedErr.Details).To(Equal("invalid token"))
				Expect(detailedErr).To(BeIdenticalTo(err))
			})
		})
	})

	Describe("HTTP Status Code Mapping", func() {
		It("should map error types to correct HTTP status codes", func() {
			cases := []struct {
				errorType  ErrorType
				statusCode int
			}{
				{ErrorTypeRateLimited, http.StatusTooManyRequests},
				{ErrorTypeServiceUnavail, http.StatusServiceUnavailable},
				{ErrorTypeModelNotLoaded, http.StatusFailedDependency},
				{ErrorTypeTimeoutExceeded, http.StatusGatewayTimeout},
				{ErrorTypeDeterministicViolation, http.StatusConflict},
			}

			for _, tc := range cases {
				err := New(tc.errorType, "msg")
				Expect(err.StatusCode).To(Equal(tc.statusCode), "type=%s", tc.errorType)
			}
		})
	})

	Describe("NewAPIError", func() {
		It("embeds the status and body", func() {
			err := NewAPIError(503, "upstream down")
			Expect(err.Type).To(Equal(ErrorTypeAPIError))
			Expect(err.Message).To(ContainSubstring("503"))
			Expect(err.Details).To(Equal("upstream down"))
		})
	})

	Describe("NewBothEnginesFailed", func() {
		It("composes both underlying errors structurally", func() {
			localErr := errors.New("model not loaded")
			cloudErr := errors.New("service unavailable")

			err := NewBothEnginesFailed(localErr, cloudErr)
			Expect(err.Type).To(Equal(ErrorTypeBothEnginesFailed))

			var both *BothEnginesFailed
			Expect(errors.As(err.Cause, &both)).To(BeTrue())
			Expect(both.Local).To(Equal(localErr))
			Expect(both.Cloud).To(Equal(cloudErr))
		})
	})
})
