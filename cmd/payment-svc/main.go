package main

import (
	"github.com/corray333/backend-labs/fulfillment/internal/app/paymentapp"
	"github.com/corray333/backend-labs/fulfillment/internal/config"
)

func main() {
	config.MustInit("payment-svc")
	paymentapp.MustNewApp().Run()
}
