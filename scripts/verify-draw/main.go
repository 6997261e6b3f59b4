// Command verify-draw recomputes a settled round's winning number from its
// published seed and checks it against the seed commitment.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tikiti/tikiti/internal/handler/dto"
	"github.com/tikiti/tikiti/internal/lottery"
	"github.com/tikiti/tikiti/internal/model"
)

func main() {
	var (
		baseURL = flag.String("url", envOr("TIKITI_URL", "http://localhost:8080"), "Base URL of the API")
		roundID = flag.Int64("round", 0, "Round to verify")
		file    = flag.String("file", "", "Read the settlement JSON from a file (- for stdin) instead of the API")
		timeout = flag.Duration("timeout", 10*time.Second, "HTTP timeout")
	)
	flag.Parse()

	var (
		settlement *dto.SettlementResponse
		err        error
	)
	switch {
	case *file != "":
		settlement, err = readFile(*file)
	case *roundID > 0:
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		settlement, err = fetch(ctx, *baseURL, *roundID)
	default:
		fmt.Fprintln(os.Stderr, "either -round or -file is required")
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}

	if err := lottery.Verify(toRecord(settlement)); err != nil {
		fmt.Printf("round %d: FAILED: %v\n", settlement.RoundID, err)
		os.Exit(1)
	}
	fmt.Printf("round %d: ok, winning ticket #%d of %d\n", settlement.RoundID, settlement.WinningNumber, settlement.Capacity)
}

func fetch(ctx context.Context, baseURL string, roundID int64) (*dto.SettlementResponse, error) {
	url := fmt.Sprintf("%s/api/lottery/rounds/%d/settlement", strings.TrimRight(baseURL, "/"), roundID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch settlement: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr dto.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		return nil, fmt.Errorf("fetch settlement: status %d %s", resp.StatusCode, apiErr.Message)
	}
	return decode(resp.Body)
}

func readFile(path string) (*dto.SettlementResponse, error) {
	if path == "-" {
		return decode(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return decode(f)
}

func decode(r io.Reader) (*dto.SettlementResponse, error) {
	var s dto.SettlementResponse
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode settlement: %w", err)
	}
	if s.Seed == "" || s.SeedCommitment == "" {
		return nil, errors.New("settlement is missing seed or commitment")
	}
	return &s, nil
}

func toRecord(s *dto.SettlementResponse) *model.SettlementRecord {
	return &model.SettlementRecord{
		RoundID:        s.RoundID,
		WinnerID:       s.WinnerID,
		WinningNumber:  s.WinningNumber,
		Capacity:       s.Capacity,
		Pot:            s.Pot,
		Fee:            s.Fee,
		Payout:         s.Payout,
		Seed:           s.Seed,
		SeedCommitment: s.SeedCommitment,
		Beacon:         s.Beacon,
		SettledAt:      s.SettledAt,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
