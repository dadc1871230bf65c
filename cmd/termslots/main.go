package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ricochet1k/termslots/internal/cli"
)

var version = "dev"
var commit = "unknown"

func versionString() string {
	v := strings.TrimSpace(version)
	if v == "" {
		v = "dev"
	}
	c := strings.TrimSpace(commit)
	if c == "" || strings.EqualFold(c, "unknown") || strings.Contains(v, c) {
		return v
	}
	return v + "+" + c
}

func main() {
	if err := cli.NewRoot(versionString()).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "termslots:", err)
		os.Exit(1)
	}
}
