package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
)

// promptApproval asks on the terminal before a shell command runs.
func promptApproval(command string) bool {
	fmt.Fprintf(os.Stderr, "\nrun command? %q [y/N] ", command)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
