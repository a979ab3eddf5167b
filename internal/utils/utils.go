package utils

import (
	"log"
	"math/big"

	"github.com/robfig/cron/v3"
)

func ConvertWeiToEther(wei *big.Int) float64 {
	etherValue := new(big.Float).SetInt(wei)
	etherValue.Quo(etherValue, big.NewFloat(1e18))
	result, _ := etherValue.Float64()
	return result
}

// SumAmounts adds base-10 integer amounts. ok is false if any of them does not parse.
func SumAmounts(amounts []string) (sum *big.Int, ok bool) {
	sum = new(big.Int)
	for _, amount := range amounts {
		value, valid := new(big.Int).SetString(amount, 10)
		if !valid {
			return sum, false
		}
		sum.Add(sum, value)
	}
	return sum, true
}

func PrintNextExecution(c *cron.Cron) {
	entries := c.Entries()
	if len(entries) > 0 {
		nextRun := entries[0].Next
		log.Printf("Next reconciliation scheduled for: %v", nextRun)
	}
}
