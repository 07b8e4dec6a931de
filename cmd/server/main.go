package main

import "chat-sync/internal/app"

func main() {
	app.Run()
}
