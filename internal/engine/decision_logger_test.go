package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"spotbot/internal/strategy"
)

func TestDecisionLoggerAppendsNDJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "decisions.ndjson")
	logger, err := NewDecisionLogger(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, sym := range []string{"BTCUSDT", "ETHUSDT"} {
		d := Decision{RunID: "r", Symbol: sym, Signal: strategy.GoodBuy, Phase: PhaseDone, TargetPrice: dec("101.8"),
			Actions: []Action{{Kind: ActionLimitBuy, Quantity: dec("2.47"), Price: dec("100.98"), Result: ResultDryRun}}}
		if err := logger.Record(context.Background(), d); err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer file.Close()
	var got []Decision
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		var d Decision
		if err := json.Unmarshal(scanner.Bytes(), &d); err != nil {
			t.Fatalf("decode line: %v", err)
		}
		got = append(got, d)
	}
	if len(got) != 2 || got[1].Symbol != "ETHUSDT" {
		t.Fatalf("unexpected decisions: %+v", got)
	}
	if !got[0].TargetPrice.Equal(dec("101.8")) || !got[0].Actions[0].Quantity.Equal(dec("2.47")) {
		t.Fatalf("decimal fields lost: %+v", got[0])
	}
}
