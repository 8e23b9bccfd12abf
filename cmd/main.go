package main

import (
	"fmt"
	"os"

	"github.com/kestrelmedia/studioforge/internal/app"
	"github.com/kestrelmedia/studioforge/internal/utils"
)

// This binary is the HTTP API process: account auth/profile plus the
// mounted studio job API (/api/studio/*). The studio claim-loop worker
// pool runs separately, as cmd/studioworker, polling the same tables.
func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to initialize app: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Start()

	port := utils.GetEnv("PORT", "8080", a.Log)
	fmt.Printf("Server listening on :%s\n", port)
	if err := a.Run(":" + port); err != nil {
		a.Log.Warn("Server failed", "error", err)
	}
}
