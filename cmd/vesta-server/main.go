package main

import "github.com/BrandonDHaskell/Vesta/server/cmd/vesta-server/cmd"

func main() {
	cmd.Execute()
}
