package main

import (
	"github.com/corray333/backend-labs/fulfillment/internal/app/notificationapp"
	"github.com/corray333/backend-labs/fulfillment/internal/config"
)

func main() {
	config.MustInit("notification-svc")
	notificationapp.MustNewApp().Run()
}
