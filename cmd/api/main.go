package main

import (
	"context"
	"log"
	"os"

	"github.com/hibiken/asynq"

	"mdagreement-harness/internal/db"
	httpSrv "mdagreement-harness/internal/http"
	"mdagreement-harness/internal/migrations"
	"mdagreement-harness/internal/storage"
)

func main() {
	// Embedded migrations are idempotent; run them on every start.
	if err := migrations.Run(os.Getenv("DATABASE_URL")); err != nil {
		log.Fatal(err)
	}

	dbase := db.MustOpen()
	s3c, err := storage.New(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	asq := asynq.NewClient(asynq.RedisClientOpt{Addr: os.Getenv("REDIS_ADDR")})
	srv := httpSrv.NewServer(dbase, s3c, asq)
	log.Printf("experiment API listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil {
		log.Fatal(err)
	}
}
