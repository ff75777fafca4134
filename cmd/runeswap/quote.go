package main

import (
	"context"
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/runekit/runeswap"
	"github.com/runekit/runeswap/runes"
)

var quoteCommand = cli.Command{
	Name:      "quote",
	Usage:     "get a quote for a rune swap",
	ArgsUsage: "rune_name amount",
	Description: `
	Prices a swap of the given amount against the current order book.
	The amount is in BTC when buying the rune and in token units when
	selling (--sell).`,
	Flags: []cli.Flag{
		cli.BoolFlag{
			Name:  "sell",
			Usage: "sell the rune for BTC instead of buying it",
		},
		cli.StringFlag{
			Name: "address",
			Usage: "quote for this address instead of the " +
				"shared preview address",
		},
	},
	Action: quote,
}

func quote(ctx *cli.Context) error {
	// Show command help if the incorrect number of arguments was provided.
	if ctx.NArg() != 2 {
		return cli.ShowCommandHelp(ctx, "quote")
	}

	args := ctx.Args()
	runeName, amount := args[0], args[1]
	sell := ctx.Bool("sell")

	address := ctx.String("address")
	if address == "" {
		address = runeswap.DefaultQuoteAddress
	}

	req := &runeswap.QuoteRequest{
		RuneName: runeName,
		Address:  address,
		Sell:     sell,
	}
	if sell {
		req.RuneAmount = amount
	} else {
		req.BTCAmount = amount
	}

	aggregator := getAggregator(ctx)

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " Fetching quote..."
	s.Start()

	ctxb, cancel := context.WithTimeout(
		context.Background(), 30*time.Second,
	)
	defer cancel()

	swapQuote, err := aggregator.FetchQuote(ctxb, req)

	// The BTC price is best effort, the quote prints without it.
	price, priceErr := getMempool(ctx).BTCPriceUSD(ctxb)
	if priceErr != nil {
		price = 0
	}

	s.Stop()

	if err != nil {
		return err
	}

	output := swapQuote.TotalFormattedAmount
	outputUnit := runeName
	if sell {
		output = swapQuote.TotalPrice
		outputUnit = "BTC"
	}

	color.Green("                     SWAP QUOTE")
	fmt.Println()
	fmt.Printf("  Rune:     %s\n", color.CyanString(runeName))
	fmt.Printf("  Side:     %s\n", sideString(sell))
	fmt.Printf("  You pay:  %s %s\n", runes.FormatAmount(amount),
		inputUnit(sell, runeName))
	fmt.Printf("  You get:  %s %s\n", runes.FormatAmount(output),
		outputUnit)
	fmt.Printf("  Orders:   %d\n", len(swapQuote.Orders))

	if price > 0 {
		fmt.Printf("  BTC/USD:  %s\n", runes.FormatUSD(price))
	}

	return nil
}

func sideString(sell bool) string {
	if sell {
		return color.RedString("SELL")
	}

	return color.GreenString("BUY")
}

func inputUnit(sell bool, runeName string) string {
	if sell {
		return runeName
	}

	return "BTC"
}
