package main

import (
	"os"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"ordermesh/gateway/api"
	"ordermesh/rpc"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	userAddr := os.Getenv("USER_SERVICE_ADDR")
	orderAddr := os.Getenv("ORDER_SERVICE_ADDR")
	if userAddr == "" || orderAddr == "" {
		log.Fatal("missing backend config: USER_SERVICE_ADDR and ORDER_SERVICE_ADDR are required")
	}

	callTimeout := 5 * time.Second
	if v := os.Getenv("RPC_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			log.Fatalf("invalid RPC_TIMEOUT: %v", err)
		}
		callTimeout = d
	}

	rc := rpc.NewClient(map[string]string{
		api.UserBackend:  userAddr,
		api.OrderBackend: orderAddr,
	})

	e := echo.New()
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	logger := log.New()
	api.Register(e, rc, callTimeout, logger)

	listenAddr := ":8080"
	if val, ok := os.LookupEnv("LISTEN_ADDR"); ok {
		listenAddr = val
	}

	e.Logger.Fatal(e.Start(listenAddr))
}
