// Command client is a reference implementation of the verifiable storage
// protocol's client side: keypair management, uploading a directory as a
// batch, and downloading a file with independent Merkle-proof
// verification against a retained root hash.
package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "client",
		Short: "Verifiable storage client",
	}

	root.AddCommand(
		newGenerateKeypairCmd(),
		newUploadCmd(),
		newDownloadCmd(),
	)

	if err := root.Execute(); err != nil {
		log.Println(err)
		os.Exit(1)
	}
}
