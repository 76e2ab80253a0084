package main

import (
	sessionload "github.com/skudasov/sessionload"
	"github.com/skudasov/sessionload/load"
)

func main() {
	sessionload.Run(load.AttackerFromName, load.CheckFromName, nil, nil)
}
