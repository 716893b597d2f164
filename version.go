package main

import (
	"fmt"
	"runtime"

	"github.com/any-hub/shellcache/internal/version"
)

// printVersion 输出版本串并附带当前二进制的 Go 版本。
func printVersion() {
	fmt.Fprintf(stdOut, "%s %s\n", version.Full(), runtime.Version())
}
