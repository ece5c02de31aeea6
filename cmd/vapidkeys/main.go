// Command vapidkeys prints a fresh VAPID key pair in the form the
// broadcaster reads from its environment.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/SherClockHolmes/webpush-go"
)

type keyPair struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

func main() {
	asJSON := flag.Bool("json", false, "print the pair as a JSON object")
	flag.Parse()

	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate VAPID keys: %v\n", err)
		os.Exit(1)
	}

	if err := writeKeys(os.Stdout, keyPair{PublicKey: publicKey, PrivateKey: privateKey}, *asJSON); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write VAPID keys: %v\n", err)
		os.Exit(1)
	}
}

func writeKeys(w io.Writer, keys keyPair, asJSON bool) error {
	if asJSON {
		return json.NewEncoder(w).Encode(keys)
	}
	_, err := fmt.Fprintf(w, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", keys.PublicKey, keys.PrivateKey)
	return err
}
