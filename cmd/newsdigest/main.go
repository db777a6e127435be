package main

import (
	"newsdigest/cmd/handlers"
	"newsdigest/internal/logger"
)

func main() {
	logger.Init() // Initialize the logger
	handlers.Execute()
}
