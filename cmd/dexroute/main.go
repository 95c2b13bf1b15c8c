package main

import (
	"os"

	"github.com/qinghaihe378-ai/dexroute/internal/app"
)

func main() {
	os.Exit(app.NewRunner().Run(os.Args[1:]))
}
