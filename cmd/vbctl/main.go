// vbctl is the command-line client of a vaultbridge node.
//
// It builds and signs bridge instructions with a local key file, submits
// them over Tendermint RPC and queries committed ledger state.
package main

import "os"

func main() {
	if err := newRootCmd(newCLI(os.Stdout)).Execute(); err != nil {
		os.Exit(1)
	}
}
