package services

import (
	"distribution_engine/internal/distribution"
	"distribution_engine/internal/models"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ReadManifest parses "address,amount" rows, amounts in wei. A first record that
// holds neither an address nor a numeric amount is taken as a header and skipped.
// Recipients keep file order, which fixes the batch partition.
func ReadManifest(r io.Reader) ([]distribution.Recipient, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 2
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var recipients []distribution.Recipient
	for first := true; ; first = false {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: manifest: %v", models.ErrInvalidInput, err)
		}
		line, _ := reader.FieldPos(0)
		address := strings.TrimSpace(record[0])
		amount, ok := new(big.Int).SetString(strings.TrimSpace(record[1]), 10)
		if !ok && first && !common.IsHexAddress(address) {
			continue
		}
		if !ok || amount.Sign() < 0 {
			return nil, fmt.Errorf("%w: manifest line %d: invalid amount %q", models.ErrInvalidInput, line, record[1])
		}
		if !common.IsHexAddress(address) {
			return nil, fmt.Errorf("%w: manifest line %d: invalid address %q", models.ErrInvalidInput, line, address)
		}
		recipients = append(recipients, distribution.Recipient{Address: address, Amount: amount})
	}
	if len(recipients) == 0 {
		return nil, fmt.Errorf("%w: manifest has no recipients", models.ErrInvalidInput)
	}
	return recipients, nil
}
