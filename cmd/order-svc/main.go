package main

import (
	"github.com/corray333/backend-labs/fulfillment/internal/app/orderapp"
	"github.com/corray333/backend-labs/fulfillment/internal/config"
)

func main() {
	config.MustInit("order-svc")
	orderapp.MustNewApp().Run()
}
