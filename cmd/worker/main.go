package main

import (
	"context"
	"log"
	"os"

	"mdagreement-harness/internal/db"
	"mdagreement-harness/internal/storage"
	"mdagreement-harness/internal/worker"
)

func main() {
	dbase := db.MustOpen()
	s3c, err := storage.New(context.Background())
	if err != nil {
		log.Fatal(err)
	}
	if err := worker.Run(os.Getenv("REDIS_ADDR"), dbase, s3c); err != nil {
		log.Fatal(err)
	}
}
