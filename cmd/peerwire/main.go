package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danmuck/peerwire/internal/conn"
	"github.com/danmuck/peerwire/internal/observability"
	"github.com/danmuck/peerwire/internal/payload"
	"github.com/danmuck/peerwire/internal/sysinfo"
)

const usage = `usage:
  peerwire send <file> <host:port>   stream a file to a peer
  peerwire ident <host:port>         query a peer's host identity
`

func main() {
	level := flag.String("log-level", "warn", "log level")
	timeout := flag.Duration("timeout", conn.DefaultExchangeTimeout, "exchange timeout")
	flag.Parse()

	logger := observability.InitLogger("peerwire", *level)
	args := flag.Args()
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	switch args[0] {
	case "send":
		if len(args) != 3 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		sender, err := payload.NewFileSender(args[1], payload.ListenerFuncs{
			Progress: func(f float64) {
				fmt.Printf("\r%3.0f%%", f*100)
			},
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("send setup failed")
		}
		if err := conn.Exchange(args[2], sender, *timeout); err != nil {
			fmt.Println()
			logger.Fatal().Err(err).Msg("transfer failed")
		}
		fmt.Printf("\rsent %s (%d bytes)\n", args[1], sender.Transferred())

	case "ident":
		if len(args) != 2 {
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		done := make(chan struct{})
		var rec sysinfo.Record
		var recErr error
		err := conn.RequestIdentity(args[1], func(r sysinfo.Record, e error) {
			rec, recErr = r, e
			close(done)
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("identity request failed")
		}
		select {
		case <-done:
		case <-time.After(*timeout):
			logger.Fatal().Msg("identity request timed out")
		}
		if recErr != nil {
			logger.Fatal().Err(recErr).Msg("identity exchange failed")
		}
		out, _ := json.MarshalIndent(rec, "", "  ")
		fmt.Println(string(out))

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}
