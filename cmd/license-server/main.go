package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"wzslicense/internal/app"
	"wzslicense/internal/config"
	"wzslicense/internal/infrastructure"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "version" || os.Args[1] == "--version") {
		fmt.Printf("%s %s\n", config.AppName, config.AppVersion)
		return
	}

	ctx := context.Background()

	application, err := app.NewApplication(ctx)
	if err != nil {
		slog.Error("Failed to initialize application", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := application.Run(ctx); err != nil {
		infrastructure.GetLogger().Error("Application error", slog.String("error", err.Error()))
		_ = infrastructure.CloseLogFile()
		os.Exit(1)
	}
	_ = infrastructure.CloseLogFile()
}
