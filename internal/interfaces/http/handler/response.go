package handler

import "github.com/erp/syncengine/internal/interfaces/http/dto"

// The envelopes below only describe dto.Response to the OpenAPI generator.
// Handlers always write dto.Response.

// APIResponse is a successful envelope carrying T.
type APIResponse[T any] struct {
	Success bool `json:"success" example:"true"`
	Data    T    `json:"data,omitempty"`
}

// PagedResponse is a list envelope. Meta carries total, page and page_size.
type PagedResponse[T any] struct {
	Success bool      `json:"success" example:"true"`
	Data    []T       `json:"data"`
	Meta    *dto.Meta `json:"meta"`
}

// ErrorResponse is a failed envelope. Error.code is one of the API error codes.
type ErrorResponse struct {
	Success bool           `json:"success" example:"false"`
	Error   *dto.ErrorInfo `json:"error"`
}
