package main

import (
	"os"
	"strconv"

	log "github.com/sirupsen/logrus"

	"ordermesh/rpc"
	"ordermesh/service"
	"ordermesh/storage"
)

func main() {
	if dbg, err := strconv.ParseBool(os.Getenv("DEBUG")); err == nil && dbg {
		log.SetLevel(log.DebugLevel)
	}

	driver := os.Getenv("STORAGE_DRIVER")
	redisURL := os.Getenv("REDIS_CONNECTION_STRING")
	tablesConn := os.Getenv("STORAGE_CONNECTION_STRING")

	orders, err := storage.Open(storage.Config{
		Driver:     driver,
		Collection: "orders",
		RedisURL:   redisURL,
		TablesConn: tablesConn,
		Table:      os.Getenv("ORDERS_TABLE"),
	})
	if err != nil {
		log.Fatalf("order storage: %v", err)
	}

	// The order service reads the user collection of the shared document
	// store to validate references and join user details into order reads.
	// A memory store is process-local and cannot see the user service's
	// data, so the join is disabled for that driver.
	var users service.UserReader
	if driver != "" && driver != "memory" {
		userStore, err := storage.Open(storage.Config{
			Driver:     driver,
			Collection: "users",
			RedisURL:   redisURL,
			TablesConn: tablesConn,
			Table:      os.Getenv("USERS_TABLE"),
		})
		if err != nil {
			log.Fatalf("user storage: %v", err)
		}
		users = service.NewUserService(userStore)
	} else {
		log.Warn("memory storage driver: user references are not validated or resolved")
	}

	srv := rpc.NewServer()
	service.NewOrderService(orders, users).Register(srv)

	listenAddr := ":4002"
	if val, ok := os.LookupEnv("LISTEN_ADDR"); ok {
		listenAddr = val
	}
	log.Infof("order service listening on %s", listenAddr)
	if err := srv.ListenAndServe(listenAddr); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
