package main

import "github.com/eleven-am/vision-chat/internal/bootstrap"

func main() {
	bootstrap.Run()
}
