package resilience

import (
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.True(t, IsTransient(NewTransientError(eris.New("x"), 429)))
	assert.True(t, IsTransient(eris.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(eris.New("dial tcp: i/o timeout")))
	assert.False(t, IsTransient(eris.New("invalid product payload")))
}

func TestIsTransientWrapped(t *testing.T) {
	inner := NewTransientError(eris.New("upstream 503"), 503)
	wrapped := eris.Wrap(inner, "discovery: fetch")
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransientStorage(t *testing.T) {
	assert.True(t, IsTransientStorage(eris.New("FATAL: terminating connection due to administrator command")))
	assert.True(t, IsTransientStorage(eris.New("database is locked")))
	assert.False(t, IsTransientStorage(eris.New("duplicate key value violates unique constraint")))
	assert.False(t, IsTransientStorage(nil))
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		assert.True(t, IsTransientHTTPStatus(code), "code %d", code)
	}
	for _, code := range []int{200, 301, 400, 401, 403, 404, 410} {
		assert.False(t, IsTransientHTTPStatus(code), "code %d", code)
	}
}

func TestIsDefinitiveHTTPStatus(t *testing.T) {
	assert.True(t, IsDefinitiveHTTPStatus(404))
	assert.True(t, IsDefinitiveHTTPStatus(401))
	assert.True(t, IsDefinitiveHTTPStatus(403))
	assert.False(t, IsDefinitiveHTTPStatus(429))
	assert.False(t, IsDefinitiveHTTPStatus(500))
	assert.False(t, IsDefinitiveHTTPStatus(200))
}
