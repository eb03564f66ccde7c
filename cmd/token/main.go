// Command token mints an access token for local development. Identities
// are issued by an external service in production; this signs one with the
// server's secret key so clients can be tried out.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dmitrijs2005/filerelay/internal/flagx"
	"github.com/dmitrijs2005/filerelay/internal/server/auth"
	"github.com/dmitrijs2005/filerelay/internal/server/config"
)

func main() {

	cfg := config.LoadConfig()

	fs := flag.NewFlagSet("token", flag.ExitOnError)
	id := fs.String("u", "", "user id (required)")
	name := fs.String("n", "", "display name")
	ttl := fs.Duration("t", cfg.AccessTokenValidityDuration, "token validity")
	_ = fs.Parse(flagx.FilterArgs(os.Args[1:], []string{"-u", "-n", "-t"}))

	if *id == "" {
		fs.Usage()
		os.Exit(2)
	}
	if *name == "" {
		*name = *id
	}

	tok, err := auth.GenerateToken(auth.Identity{ID: *id, Name: *name}, []byte(cfg.SecretKey), *ttl)
	if err != nil {
		log.Fatalf("%v", err)
	}

	fmt.Println(tok)
	fmt.Fprintf(os.Stderr, "valid until %s\n", time.Now().Add(*ttl).Format(time.RFC3339))
}
