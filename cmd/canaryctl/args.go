package main

import (
	"bytes"
	"fmt"
	"strings"
)

func makeExample(examples ...string) string {
	var buf bytes.Buffer
	for _, ex := range examples {
		fmt.Fprintf(&buf, "  %s\n", ex)
	}
	return strings.TrimRight(buf.String(), "\n")
}
