package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/erp/syncengine/internal/infrastructure/auth"
	"github.com/erp/syncengine/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// HandlerCase drives one call of a gin handler. Zero values mean GET /,
// anonymous, and no status or envelope assertion.
type HandlerCase struct {
	Name    string
	Method  string
	Path    string
	Body    any
	Headers map[string]string
	// Params are gin path parameters, since the handler runs without a router.
	Params gin.Params

	// Subject authenticates the call with Role when set.
	Subject string
	Role    auth.Role

	WantStatus int
	// WantError is the expected envelope error code. Empty with a 2xx
	// WantStatus asserts a success envelope.
	WantError string
	Check     func(t *testing.T, tc *TestContext)
}

// RunHandlerCases runs each case as a subtest.
func RunHandlerCases(t *testing.T, h gin.HandlerFunc, cases []HandlerCase) {
	t.Helper()
	for _, hc := range cases {
		t.Run(hc.Name, func(t *testing.T) {
			ServeHandler(t, h, hc)
		})
	}
}

// ServeHandler calls h once with the request described by hc.
func ServeHandler(t *testing.T, h gin.HandlerFunc, hc HandlerCase) *TestContext {
	t.Helper()

	method, path := hc.Method, hc.Path
	if method == "" {
		method = http.MethodGet
	}
	if path == "" {
		path = "/"
	}
	var body io.Reader = http.NoBody
	if hc.Body != nil {
		body = ToJSONReader(t, hc.Body)
	}
	req := httptest.NewRequest(method, path, body)
	if hc.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range hc.Headers {
		req.Header.Set(k, v)
	}

	tc := NewTestContextWithRequest(t, req)
	tc.Context.Params = hc.Params
	if hc.Subject != "" {
		tc.Authenticate(hc.Subject, hc.Role)
	}

	h(tc.Context)

	if hc.WantStatus != 0 {
		require.Equal(t, hc.WantStatus, tc.ResponseCode(), "body: %s", tc.ResponseBody())
	}
	switch {
	case hc.WantError != "":
		AssertErrorResponse(t, tc, hc.WantError)
	case hc.WantStatus >= 200 && hc.WantStatus < 300 && hc.WantStatus != http.StatusNoContent:
		AssertSuccessResponse(t, tc)
	}
	if hc.Check != nil {
		hc.Check(t, tc)
	}
	return tc
}

// Envelope decodes the body as dto.Response, returning data undecoded.
func Envelope(t *testing.T, tc *TestContext) (dto.Response, json.RawMessage) {
	t.Helper()
	var env struct {
		dto.Response
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(tc.ResponseBody(), &env), "response is not an envelope: %s", tc.ResponseBody())
	return env.Response, env.Data
}

// DataAs decodes the data of a success envelope into T.
func DataAs[T any](t *testing.T, tc *TestContext) T {
	t.Helper()
	resp, data := Envelope(t, tc)
	require.True(t, resp.Success, "expected success, got %s", tc.ResponseBody())
	var out T
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func AssertSuccessResponse(t *testing.T, tc *TestContext) {
	t.Helper()
	resp, _ := Envelope(t, tc)
	assert.True(t, resp.Success, "expected success")
	assert.Nil(t, resp.Error)
}

func AssertErrorResponse(t *testing.T, tc *TestContext, code string) {
	t.Helper()
	resp, _ := Envelope(t, tc)
	assert.False(t, resp.Success, "expected failure")
	if assert.NotNil(t, resp.Error, "expected an error object") {
		assert.Equal(t, code, resp.Error.Code)
	}
}

func ToJSONReader(t *testing.T, v any) io.Reader {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(data)
}
