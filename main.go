package main

import "github.com/Trustflow-Network-Labs/x402-autopay/internal/cmd"

func main() {
	cmd.Execute()
}
