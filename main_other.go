//go:build !linux

package main

import (
	"os"
	"runtime"

	"golang.design/x/hotkey/mainthread"
)

func init() {
	// The hotkey backend on macOS must register from the main thread.
	runtime.LockOSThread()
}

func main() {
	code := 0
	mainthread.Init(func() { code = execute() })
	os.Exit(code)
}
