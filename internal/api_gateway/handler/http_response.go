package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/partner-wallet-ledger/internal/api_gateway/middleware"
)

// Response is the envelope of every API answer. Exactly one of Data and
// Error is set.
type Response struct {
	Data          interface{} `json:"data,omitempty"`
	Error         *ErrorInfo  `json:"error,omitempty"`
	CorrelationID string      `json:"correlation_id,omitempty"`
	Meta          *MetaInfo   `json:"meta,omitempty"`
}

// ErrorInfo carries a stable machine code and a message partners may see
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// MetaInfo describes the page of a listing
type MetaInfo struct {
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
	TotalItems int `json:"total_items,omitempty"`
}

func pageMeta(page, perPage, totalItems int) *MetaInfo {
	meta := &MetaInfo{Page: page, PerPage: perPage, TotalItems: totalItems}
	if perPage > 0 {
		meta.TotalPages = (totalItems + perPage - 1) / perPage
	}
	return meta
}

func send(c *gin.Context, statusCode int, response Response) {
	response.CorrelationID = middleware.GetCorrelationID(c)
	c.JSON(statusCode, response)
}

// RespondWithError answers with an error envelope
func RespondWithError(c *gin.Context, statusCode int, code, message string) {
	send(c, statusCode, Response{Error: &ErrorInfo{Code: code, Message: message}})
}

// RespondWithPaginatedData answers a listing with its page metadata
func RespondWithPaginatedData(c *gin.Context, statusCode int, data interface{}, page, perPage, totalItems int) {
	send(c, statusCode, Response{Data: data, Meta: pageMeta(page, perPage, totalItems)})
}

func RespondOK(c *gin.Context, data interface{}) {
	send(c, http.StatusOK, Response{Data: data})
}

func RespondCreated(c *gin.Context, data interface{}) {
	send(c, http.StatusCreated, Response{Data: data})
}

// RespondAccepted is used for work handed to the settlement worker
func RespondAccepted(c *gin.Context, data interface{}) {
	send(c, http.StatusAccepted, Response{Data: data})
}

func RespondBadRequest(c *gin.Context, message string) {
	RespondWithError(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

func RespondForbidden(c *gin.Context, message string) {
	if message == "" {
		message = "Forbidden"
	}
	RespondWithError(c, http.StatusForbidden, "FORBIDDEN", message)
}

func RespondNotFound(c *gin.Context, message string) {
	if message == "" {
		message = "Resource not found"
	}
	RespondWithError(c, http.StatusNotFound, "NOT_FOUND", message)
}

// RespondInternalError hides the cause; it is logged by the caller
func RespondInternalError(c *gin.Context) {
	RespondWithError(c, http.StatusInternalServerError, InternalErrorCode, InternalErrorMessage)
}

const (
	InternalErrorCode    = "INTERNAL_SERVER_ERROR"
	InternalErrorMessage = "An internal server error occurred"
)
