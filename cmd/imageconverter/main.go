package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/Lucke514/ImageConverter/internal/bootstrap"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: ./config.yaml or $IMGCONV_CONFIG)")
	flag.Parse()

	fmt.Printf("[%s] [INFO] [BOOT] starting imageconverter...\n", time.Now().Format("2006-01-02 15:04:05.000"))
	if err := bootstrap.Run(context.Background(), bootstrap.Options{ConfigPath: *configPath}); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "imageconverter failed: %v\n", err)
		os.Exit(1)
	}
}
