package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"ordermesh/domain"
	"ordermesh/rpc"
)

const requestBodyMaxSize = 64 * 1024 // 64 KiB

// Backend names the client resolves to addresses.
const (
	UserBackend  = "users"
	OrderBackend = "orders"
)

// Caller is the slice of rpc.Client the handlers need.
type Caller interface {
	Call(ctx context.Context, backend, command string, payload any, timeout time.Duration) (json.RawMessage, error)
}

// Register wires up all gateway routes on the provided Echo instance.
func Register(e *echo.Echo, rc Caller, callTimeout time.Duration, logger *log.Logger) {
	e.POST("/users", createUser(rc, callTimeout, logger))
	e.GET("/users", forwardCommand(rc, UserBackend, "get_all_users", callTimeout, logger))
	e.GET("/users/:id", forwardByID(rc, UserBackend, "get_user", callTimeout, logger))
	e.PUT("/users/:id", updateUser(rc, callTimeout, logger))
	e.DELETE("/users/:id", forwardByID(rc, UserBackend, "delete_user", callTimeout, logger))

	e.POST("/orders", createOrder(rc, callTimeout, logger))
	e.GET("/orders", getAllOrders(rc, callTimeout, logger))
	e.GET("/orders/:id", forwardByID(rc, OrderBackend, "get_order", callTimeout, logger))
	e.PUT("/orders/:id", updateOrder(rc, callTimeout, logger))
	e.DELETE("/orders/:id", forwardByID(rc, OrderBackend, "delete_order", callTimeout, logger))

	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
}

func createUser(rc Caller, timeout time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.CreateUser
		if !decodeBody(c, &in) {
			return nil
		}
		return respond(c, rc, UserBackend, "create_user", in, http.StatusCreated, timeout, logger)
	}
}

func updateUser(rc Caller, timeout time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.UpdateUser
		if !decodeBody(c, &in) {
			return nil
		}
		payload := map[string]any{"id": c.Param("id"), "updateData": in}
		return respond(c, rc, UserBackend, "update_user", payload, http.StatusOK, timeout, logger)
	}
}

func createOrder(rc Caller, timeout time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.CreateOrder
		if !decodeBody(c, &in) {
			return nil
		}
		return respond(c, rc, OrderBackend, "create_order", in, http.StatusCreated, timeout, logger)
	}
}

func updateOrder(rc Caller, timeout time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		var in domain.UpdateOrder
		if !decodeBody(c, &in) {
			return nil
		}
		payload := map[string]any{"id": c.Param("id"), "updateData": in}
		return respond(c, rc, OrderBackend, "update_order", payload, http.StatusOK, timeout, logger)
	}
}

func getAllOrders(rc Caller, timeout time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		payload := map[string]any{}
		if userID := c.QueryParam("userId"); userID != "" {
			payload["userId"] = userID
		}
		return respond(c, rc, OrderBackend, "get_all_orders", payload, http.StatusOK, timeout, logger)
	}
}

// forwardByID forwards commands whose payload is just the path id.
func forwardByID(rc Caller, backend, command string, timeout time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		payload := map[string]any{"id": c.Param("id")}
		return respond(c, rc, backend, command, payload, http.StatusOK, timeout, logger)
	}
}

// forwardCommand forwards commands without a payload.
func forwardCommand(rc Caller, backend, command string, timeout time.Duration, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		return respond(c, rc, backend, command, nil, http.StatusOK, timeout, logger)
	}
}

// decodeBody decodes a size-limited JSON body into v. On malformed input it
// writes the 400 itself and reports false so the handler stops there.
func decodeBody(c echo.Context, v any) bool {
	lr := io.LimitReader(c.Request().Body, requestBodyMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	if err := dec.Decode(v); err != nil {
		_ = c.JSON(http.StatusBadRequest, errorBody(rpc.KindValidationFailed, "invalid request body"))
		return false
	}
	return true
}

// respond issues the RPC and writes either the backend's raw JSON result or
// the mapped error body.
func respond(c echo.Context, rc Caller, backend, command string, payload any, okStatus int, timeout time.Duration, logger *log.Logger) error {
	m := newRequestMetrics(logger, c.Path())
	ctx := c.Request().Context()

	rpcStart := time.Now()
	data, err := rc.Call(ctx, backend, command, payload, timeout)
	m.ObserveRPC(time.Since(rpcStart))
	if err != nil {
		status, body := mapError(err)
		m.Log(status, err)
		return c.JSON(status, body)
	}
	m.Log(okStatus, nil)
	if len(data) == 0 {
		return c.NoContent(okStatus)
	}
	return c.JSONBlob(okStatus, data)
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func errorBody(kind, message string) errorResponse {
	return errorResponse{Error: kind, Message: message}
}

// mapError translates the RPC error taxonomy into stable HTTP statuses:
// NotFound -> 404, ValidationFailed -> 400, transport unavailability -> 503,
// everything else -> 500.
func mapError(err error) (int, errorResponse) {
	var re *rpc.Error
	if !errors.As(err, &re) {
		return http.StatusInternalServerError, errorBody(rpc.KindInternal, err.Error())
	}
	switch re.Kind {
	case rpc.KindNotFound:
		return http.StatusNotFound, errorBody(re.Kind, re.Message)
	case rpc.KindValidationFailed:
		return http.StatusBadRequest, errorBody(re.Kind, re.Message)
	case rpc.KindTimeout, rpc.KindConnectionUnavailable, rpc.KindConnectionLost:
		return http.StatusServiceUnavailable, errorBody(re.Kind, re.Message)
	default:
		return http.StatusInternalServerError, errorBody(re.Kind, re.Message)
	}
}
