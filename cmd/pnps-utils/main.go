package main

import (
	pnps "github.com/frubino/pnps-utils"
)

func main() {
	pnps.Main()
}
