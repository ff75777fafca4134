package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"
)

var feesCommand = cli.Command{
	Name:  "fees",
	Usage: "show the current recommended fee rates",
	Description: `
	Prints the mempool.space recommended fee rate tiers in sat/vB. Swaps
	ride the half hour tier when buying and the fastest tier when
	selling.`,
	Action: fees,
}

func fees(ctx *cli.Context) error {
	ctxb, cancel := context.WithTimeout(
		context.Background(), 10*time.Second,
	)
	defer cancel()

	rates, err := getMempool(ctx).RecommendedFees(ctxb)
	if err != nil {
		return err
	}

	color.Green("            RECOMMENDED FEES (sat/vB)")
	fmt.Println()
	fmt.Printf("  Fastest:   %d\n", rates.FastestFee)
	fmt.Printf("  Half hour: %d\n", rates.HalfHourFee)
	fmt.Printf("  Hour:      %d\n", rates.HourFee)
	fmt.Printf("  Economy:   %d\n", rates.EconomyFee)
	fmt.Printf("  Minimum:   %d\n", rates.MinimumFee)

	return nil
}
