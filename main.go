package main

import "github.com/frahmantamala/storefront-payments/cmd"

func main() {
	cmd.Execute()
}
