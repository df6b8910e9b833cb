// Command anytalk-demo is a terminal harness for the anytalk core: it
// starts a Context, drives StartSession/StopSession/Cancel from stdin, and
// prints every event the core emits (spec §4.9, §6).
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/anytalk-oss/anytalk-core"
)

func main() {
	var (
		appID      = flag.String("app-id", os.Getenv("ANYTALK_APP_ID"), "vendor app ID (env ANYTALK_APP_ID)")
		accessTok  = flag.String("access-token", os.Getenv("ANYTALK_ACCESS_TOKEN"), "vendor access token (env ANYTALK_ACCESS_TOKEN)")
		resourceID = flag.String("resource-id", os.Getenv("ANYTALK_RESOURCE_ID"), "vendor resource ID (env ANYTALK_RESOURCE_ID)")
		mode       = flag.String("mode", os.Getenv("ANYTALK_MODE"), "streaming mode: bidi | bidi_async | nostream (env ANYTALK_MODE)")
	)
	flag.Parse()

	if strings.TrimSpace(*appID) == "" || strings.TrimSpace(*accessTok) == "" {
		fmt.Fprintln(os.Stderr, "anytalk-demo: ANYTALK_APP_ID and ANYTALK_ACCESS_TOKEN are required")
		os.Exit(1)
	}

	cfg := anytalk.Config{
		AppID:       *appID,
		AccessToken: *accessTok,
		ResourceID:  *resourceID,
		Mode:        anytalk.Mode(*mode),
	}

	ctx := anytalk.Init(cfg, nil, func(kind anytalk.EventKind, text string) {
		fmt.Printf("[%s] %s\n", kind, text)
	})
	defer ctx.Destroy()

	fmt.Println("anytalk-demo ready. Commands: start, stop, cancel, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		switch strings.TrimSpace(scanner.Text()) {
		case "start":
			if err := ctx.StartSession(); err != nil {
				fmt.Fprintln(os.Stderr, "start failed:", err)
			}
		case "stop":
			ctx.StopSession()
		case "cancel":
			ctx.Cancel()
		case "quit", "exit":
			return
		case "":
		default:
			fmt.Fprintln(os.Stderr, "unknown command; use start, stop, cancel, or quit")
		}
	}
}
