package main

import (
	"fmt"
	"os"

	"github.com/btcsuite/btclog"
	"github.com/urfave/cli"

	"github.com/runekit/runeswap"
	"github.com/runekit/runeswap/fsm"
	"github.com/runekit/runeswap/mempool"
	"github.com/runekit/runeswap/satsterminal"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[runeswap] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()

	app.Version = runeswap.Version()
	app.Name = "runeswap"
	app.Usage = "swap rune tokens against BTC from the command line"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "aggregator",
			Value: satsterminal.DefaultBaseURL,
			Usage: "SatsTerminal API base url",
		},
		cli.StringFlag{
			Name:  "api_key",
			Usage: "SatsTerminal API key",
		},
		cli.StringFlag{
			Name:  "mempool",
			Value: mempool.DefaultBaseURL,
			Usage: "mempool.space API base url",
		},
		cli.BoolFlag{
			Name:  "verbose",
			Usage: "enable debug logging to stdout",
		},
	}
	app.Before = func(ctx *cli.Context) error {
		if ctx.GlobalBool("verbose") {
			enableLogging(btclog.LevelDebug)
		}
		return nil
	}
	app.Commands = []cli.Command{
		quoteCommand, feesCommand,
	}

	err := app.Run(os.Args)
	if err != nil {
		fatal(err)
	}
}

// enableLogging routes all subsystem loggers to stdout at the given level.
func enableLogging(level btclog.Level) {
	backend := btclog.NewBackend(os.Stdout)

	for _, subsystem := range []struct {
		tag string
		use func(btclog.Logger)
	}{
		{runeswap.Subsystem, runeswap.UseLogger},
		{fsm.Subsystem, fsm.UseLogger},
		{satsterminal.Subsystem, satsterminal.UseLogger},
	} {
		logger := backend.Logger(subsystem.tag)
		logger.SetLevel(level)
		subsystem.use(logger)
	}
}

func getAggregator(ctx *cli.Context) *satsterminal.Client {
	return satsterminal.NewClient(&satsterminal.Config{
		BaseURL: ctx.GlobalString("aggregator"),
		APIKey:  ctx.GlobalString("api_key"),
	})
}

func getMempool(ctx *cli.Context) *mempool.Client {
	return mempool.NewClient(&mempool.Config{
		BaseURL: ctx.GlobalString("mempool"),
	})
}
