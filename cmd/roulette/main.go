package main

import "github.com/wilsonzlin/aero/proxy/webrtc-roulette/internal/cli"

func main() {
	cli.Execute()
}
