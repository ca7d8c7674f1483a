package main

import "github.com/ariefcatur/go-storefront/internal/cmd"

func main() {
	cmd.Execute()
}
