package utils

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
)

// Confirm prints prompt and reports whether the answer read from in is
// yes. Anything else, including EOF, is no.
func Confirm(in io.Reader, prompt string) bool {
	fmt.Print(prompt + " (y/N): ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	return slices.Contains([]string{"y", "yes"}, strings.ToLower(strings.TrimSpace(line)))
}
