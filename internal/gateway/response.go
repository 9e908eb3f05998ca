package gateway

import "net/http"

// Response is the result of a lifecycle or inbound-frame handler invocation.
// It is a value, not an HTTP reply: the websocket pump only logs it.
type Response struct {
	StatusCode int    `json:"statusCode"`
	Body       string `json:"body"`
}

func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

func OK(body string) Response { return Response{StatusCode: http.StatusOK, Body: body} }

func BadRequest(body string) Response { return Response{StatusCode: http.StatusBadRequest, Body: body} }

func Forbidden(body string) Response { return Response{StatusCode: http.StatusForbidden, Body: body} }

func Unauthorized(body string) Response {
	return Response{StatusCode: http.StatusUnauthorized, Body: body}
}

func InternalError(body string) Response {
	return Response{StatusCode: http.StatusInternalServerError, Body: body}
}
