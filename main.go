// genpwd-sync synchronizes encrypted password vaults with cloud storage
// backends. Vault blobs are opaque to this tool: encryption and
// decryption happen in the password manager, and only ciphertext ever
// leaves the machine.
package main

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitOnError(err)
	}
}
