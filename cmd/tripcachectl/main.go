// Command tripcachectl 是 tripcache 的前台协调器命令行：下载/删除国家包、
// 查看存储占用与汇率新鲜度。
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(defaultEnv()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, newPrinter().Error("error: %v", err))
		os.Exit(1)
	}
}
