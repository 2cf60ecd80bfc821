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

	users, err := storage.Open(storage.Config{
		Driver:     os.Getenv("STORAGE_DRIVER"),
		Collection: "users",
		RedisURL:   os.Getenv("REDIS_CONNECTION_STRING"),
		TablesConn: os.Getenv("STORAGE_CONNECTION_STRING"),
		Table:      os.Getenv("USERS_TABLE"),
	})
	if err != nil {
		log.Fatalf("storage: %v", err)
	}

	srv := rpc.NewServer()
	service.NewUserService(users).Register(srv)

	listenAddr := ":4001"
	if val, ok := os.LookupEnv("LISTEN_ADDR"); ok {
		listenAddr = val
	}
	log.Infof("user service listening on %s", listenAddr)
	if err := srv.ListenAndServe(listenAddr); err != nil {
		log.Fatalf("serve: %v", err)
	}
}
