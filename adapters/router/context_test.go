package annotaterouter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"

	"github.com/goliatone/go-router"
)

var (
	_ router.Context     = (*testContext)(nil)
	_ router.Context     = (*testHTTPContext)(nil)
	_ router.HTTPContext = (*testHTTPContext)(nil)
)

// testContext is an in-memory router.Context backed by a response recorder.
type testContext struct {
	method     string
	path       string
	body       []byte
	query      map[string]string
	headers    http.Header
	params     map[string]string
	store      map[any]any
	ctx        context.Context
	recorder   *httptest.ResponseRecorder
	status     int
	sendCalled bool
}

func newTestContext(method, path string, body []byte, headers map[string]string, query map[string]string) *testContext {
	c := &testContext{
		method:   method,
		path:     path,
		body:     body,
		query:    map[string]string{},
		headers:  http.Header{},
		params:   map[string]string{},
		store:    map[any]any{},
		ctx:      context.Background(),
		recorder: httptest.NewRecorder(),
	}
	for key, value := range headers {
		c.headers.Set(key, value)
	}
	for key, value := range query {
		c.query[key] = value
	}
	return c
}

func firstOr(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func atoiOr(raw string, fallback int) int {
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return fallback
}

func (c *testContext) Bind(v any) error {
	if len(c.body) == 0 {
		return nil
	}
	return json.Unmarshal(c.body, v)
}

func (c *testContext) Context() context.Context {
	if c.ctx != nil {
		return c.ctx
	}
	return context.Background()
}

func (c *testContext) SetContext(ctx context.Context) { c.ctx = ctx }

func (c *testContext) Next() error { return nil }

func (c *testContext) RouteName() string { return "" }

func (c *testContext) RouteParams() map[string]string { return c.params }

func (c *testContext) Method() string { return c.method }

func (c *testContext) Path() string { return c.path }

func (c *testContext) Param(name string, defaultValue ...string) string {
	if v, ok := c.params[name]; ok {
		return v
	}
	return firstOr(defaultValue)
}

func (c *testContext) ParamsInt(key string, defaultValue int) int {
	return atoiOr(c.Param(key), defaultValue)
}

func (c *testContext) Query(name string, defaultValue ...string) string {
	if v, ok := c.query[name]; ok {
		return v
	}
	return firstOr(defaultValue)
}

func (c *testContext) QueryValues(name string) []string {
	if v, ok := c.query[name]; ok {
		return []string{v}
	}
	return nil
}

func (c *testContext) QueryInt(name string, defaultValue int) int {
	return atoiOr(c.Query(name), defaultValue)
}

func (c *testContext) Queries() map[string]string { return c.query }

func (c *testContext) Body() []byte { return c.body }

func (c *testContext) Locals(key any, value ...any) any {
	if len(value) == 0 {
		return c.store[key]
	}
	c.store[key] = value[0]
	return value[0]
}

func (c *testContext) LocalsMerge(key any, value map[string]any) map[string]any {
	merged, ok := c.store[key].(map[string]any)
	if !ok {
		merged = make(map[string]any, len(value))
	}
	for k, v := range value {
		merged[k] = v
	}
	c.store[key] = merged
	return merged
}

func (c *testContext) Render(name string, bind any, layouts ...string) error { return nil }

func (c *testContext) Cookie(cookie *router.Cookie) {}

func (c *testContext) Cookies(key string, defaultValue ...string) string {
	return firstOr(defaultValue)
}

func (c *testContext) CookieParser(out any) error { return nil }

func (c *testContext) Redirect(location string, status ...int) error {
	c.SetHeader("Location", location)
	code := http.StatusFound
	if len(status) > 0 {
		code = status[0]
	}
	c.writeHeader(code)
	return nil
}

func (c *testContext) RedirectToRoute(routeName string, params router.ViewContext, status ...int) error {
	return nil
}

func (c *testContext) RedirectBack(fallback string, status ...int) error { return nil }

func (c *testContext) Header(name string) string { return c.headers.Get(name) }

func (c *testContext) Referer() string { return c.headers.Get("Referer") }

func (c *testContext) OriginalURL() string { return c.path }

func (c *testContext) FormFile(key string) (*multipart.FileHeader, error) { return nil, nil }

func (c *testContext) FormValue(key string, defaultValue ...string) string {
	return firstOr(defaultValue)
}

func (c *testContext) IP() string { return "127.0.0.1" }

func (c *testContext) Status(code int) router.Context {
	c.writeHeader(code)
	return c
}

func (c *testContext) Send(body []byte) error {
	c.sendCalled = true
	c.ensureStatus()
	_, err := c.recorder.Write(body)
	return err
}

func (c *testContext) SendString(body string) error { return c.Send([]byte(body)) }

func (c *testContext) SendStatus(code int) error {
	c.writeHeader(code)
	return nil
}

func (c *testContext) JSON(code int, v any) error {
	c.recorder.Header().Set("Content-Type", "application/json")
	c.writeHeader(code)
	return json.NewEncoder(c.recorder).Encode(v)
}

func (c *testContext) SendStream(r io.Reader) error {
	c.ensureStatus()
	_, err := io.Copy(c.recorder, r)
	return err
}

func (c *testContext) NoContent(code int) error {
	c.writeHeader(code)
	return nil
}

func (c *testContext) SetHeader(key, val string) router.Context {
	c.recorder.Header().Set(key, val)
	return c
}

func (c *testContext) Set(key string, value any) { c.store[key] = value }

func (c *testContext) Get(key string, def any) any {
	if v, ok := c.store[key]; ok {
		return v
	}
	return def
}

func (c *testContext) GetString(key string, def string) string {
	if v, ok := c.store[key].(string); ok {
		return v
	}
	return def
}

func (c *testContext) GetInt(key string, def int) int {
	if v, ok := c.store[key].(int); ok {
		return v
	}
	return def
}

func (c *testContext) GetBool(key string, def bool) bool {
	if v, ok := c.store[key].(bool); ok {
		return v
	}
	return def
}

func (c *testContext) ensureStatus() {
	if c.status == 0 {
		c.writeHeader(http.StatusOK)
	}
}

// writeHeader forwards only the first status to the recorder, like a real
// response writer.
func (c *testContext) writeHeader(code int) {
	first := c.status == 0
	c.status = code
	if first {
		c.recorder.WriteHeader(code)
	}
}

// testHTTPContext also exposes the net/http request and writer, which lets
// the transport stream bodies and downloads.
type testHTTPContext struct {
	*testContext
	req *http.Request
}

func newTestHTTPContext(method, path string, body []byte, headers map[string]string, query map[string]string) *testHTTPContext {
	base := newTestContext(method, path, body, headers, query)
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header = base.headers.Clone()
	base.ctx = req.Context()
	return &testHTTPContext{testContext: base, req: req}
}

func (c *testHTTPContext) Request() *http.Request { return c.req }

func (c *testHTTPContext) Response() http.ResponseWriter { return c.recorder }
