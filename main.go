package main

import (
	"time"
)

func main() {
	// Allow USB CDC to enumerate before we print.
	time.Sleep(2 * time.Second)
	println("linkcore boot")

	// Uptime ticks keep the console alive on a board with nothing wired.
	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()

	up := 0
	for range tick.C {
		up++
		println("up", up, "s")
	}
}
