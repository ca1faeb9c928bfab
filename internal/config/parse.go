package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

func parseAddresses(inputs []string) ([]common.Address, error) {
	addresses := make([]common.Address, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		if !common.IsHexAddress(input) {
			return nil, fmt.Errorf("invalid address: %s", input)
		}
		addresses = append(addresses, common.HexToAddress(input))
	}
	return addresses, nil
}

func parseFeeTiers(inputs []string) ([]uint32, error) {
	tiers := make([]uint32, 0, len(inputs))
	for _, input := range inputs {
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		tier, err := strconv.ParseUint(input, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid fee tier: %s", input)
		}
		tiers = append(tiers, uint32(tier))
	}
	return tiers, nil
}
