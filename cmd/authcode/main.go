// Command authcode hashes a dual-authorization code into a code book entry.
package main

import (
	"bufio"
	"flag"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"civicguard.org/internal/auth"
)

func main() {
	log.SetFlags(0)
	var (
		identity = flag.String("identity", "", "Identity recorded in the crisis log for this code")
		slot     = flag.String("slot", "", "Restrict the code to slot A or B (default: either)")
	)
	flag.Parse()

	if strings.TrimSpace(*identity) == "" {
		log.Fatal("usage: authcode -identity NAME [-slot A|B] < code")
	}
	if *slot != "" {
		if s := strings.ToUpper(*slot); s != "A" && s != "B" {
			log.Fatalf("unknown slot %q", *slot)
		}
	}

	code, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && code == "" {
		log.Fatalf("read code from stdin: %v", err)
	}
	hash, err := auth.HashCode(strings.TrimRight(code, "\r\n"))
	if err != nil {
		log.Fatalf("hash code: %v", err)
	}
	entry := auth.CodeEntry{Identity: *identity, Slot: strings.ToUpper(*slot), Hash: hash}
	if _, err := auth.NewCodeBook([]auth.CodeEntry{entry}); err != nil {
		log.Fatalf("invalid entry: %v", err)
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	if err := enc.Encode(map[string][]auth.CodeEntry{"codes": {entry}}); err != nil {
		log.Fatalf("encode: %v", err)
	}
	_ = enc.Close()
}
