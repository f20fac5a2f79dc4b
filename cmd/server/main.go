// Command server runs the bankcore worker process: the job executor and the
// outbox listeners, over a migrated PostgreSQL database.
//
// Exit codes: 0 = success, 1 = error.
package main

import (
	"context"
	"log"

	"github.com/prettysheep-coder/bankcore/internal/app"
)

func main() {
	if err := app.Run(context.Background()); err != nil {
		log.Fatalf("run: %v", err)
	}
}
