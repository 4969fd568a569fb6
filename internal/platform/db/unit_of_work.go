package db

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

var schemaPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidateSchema rejects schema names that are unsafe to interpolate.
func ValidateSchema(schema string) error {
	if !schemaPattern.MatchString(schema) {
		return fmt.Errorf("invalid schema identifier: %q", schema)
	}
	return nil
}

// errRollback marks a handler that succeeded at the Go level but wrote an
// error status, so the unit of work must not commit.
var errRollback = errors.New("rollback: error response")

// UnitOfWork acquires one pooled connection per request and releases it when
// the request ends. Mutating requests also run inside a transaction (see
// inTx).
func UnitOfWork(pool *pgxpool.Pool) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer conn.Release()

			c.SetRequest(c.Request().WithContext(context.WithValue(ctx, DBConnKey, conn)))

			if !isMutating(c.Request().Method) {
				return next(c)
			}
			return inTx(c, conn, next)
		}
	}
}

// inTx runs next inside a transaction that commits only when next returns
// nil with a status below 400. The response is held back until the commit
// succeeds; on any failure it is discarded so the error handler can write
// its own.
func inTx(c echo.Context, b Beginner, next echo.HandlerFunc) error {
	res := c.Response()
	origWriter := res.Writer
	buf := newTxResponseWriter()
	res.Writer = buf

	flushed := false
	defer func() {
		res.Writer = origWriter
		if !flushed {
			res.Committed = false
			res.Status = http.StatusOK
			res.Size = 0
		}
	}()

	var handlerErr error
	err := WithTx(c.Request().Context(), b, func(txCtx context.Context) error {
		c.SetRequest(c.Request().WithContext(txCtx))
		handlerErr = next(c)
		if handlerErr != nil {
			return handlerErr
		}
		if res.Status >= http.StatusBadRequest {
			return errRollback
		}
		return nil
	})
	if handlerErr != nil {
		return handlerErr
	}
	if err != nil && !errors.Is(err, errRollback) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "transaction failed")
	}

	flushed = true
	return buf.flushTo(origWriter, res)
}

// txResponseWriter holds a response in memory until its transaction ends.
type txResponseWriter struct {
	header http.Header
	body   bytes.Buffer
}

func newTxResponseWriter() *txResponseWriter {
	return &txResponseWriter{header: http.Header{}}
}

func (w *txResponseWriter) Header() http.Header { return w.header }

func (w *txResponseWriter) Write(b []byte) (int, error) { return w.body.Write(b) }

// WriteHeader is a no-op; echo.Response keeps the status.
func (w *txResponseWriter) WriteHeader(int) {}

func (w *txResponseWriter) flushTo(dst http.ResponseWriter, res *echo.Response) error {
	for k, v := range w.header {
		dst.Header()[k] = v
	}
	if !res.Committed {
		return nil
	}
	dst.WriteHeader(res.Status)
	if w.body.Len() == 0 {
		return nil
	}
	_, err := dst.Write(w.body.Bytes())
	return err
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}
