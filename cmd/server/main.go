package main

import (
	"github.com/avelar-io/ttskit/internal/bootstrap"
)

func main() {
	bootstrap.Run()
}
