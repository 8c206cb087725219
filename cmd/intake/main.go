package main

import (
	"os"

	"github.com/joho/godotenv"
	"k8s.io/klog/v2"

	"github.com/zhouzirui/gyn-intake/backend/internal/cli"
)

func main() {
	defer klog.Flush()

	_ = godotenv.Load()

	if err := cli.NewRootCommand(cli.DefaultBuild).Execute(); err != nil {
		os.Exit(1)
	}
}
