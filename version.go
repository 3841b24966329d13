package main

import (
	"fmt"

	"github.com/tripcache/tripcache/internal/version"
)

// printVersion 输出版本信息以及访问上游时使用的 User-Agent。
func printVersion() {
	fmt.Fprintf(stdOut, "%s\nuser-agent: %s\n", version.Full(), version.UserAgent())
}
