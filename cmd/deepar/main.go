package main

import (
	"github.com/joshcarp/deepargo"
)

func main() {
	deepargo.InitializeCommand()
}
