package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"
)

func printJSON(v any) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitf("failed to encode output: %v", err)
	}
	fmt.Println(string(data))
}

// confirm asks a yes/no question on the terminal; without a terminal the answer is no
func confirm(question string) bool {
	if !term.IsTerminal(int(syscall.Stdin)) {
		return false
	}

	fmt.Fprintf(os.Stderr, "%s (yes/no): ", question)
	response, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes" || response == "y"
}

// readLine prompts for a single line of input
func readLine(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
