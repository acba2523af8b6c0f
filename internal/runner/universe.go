package runner

import (
	"context"
	"fmt"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"spotbot/internal/broker"
)

type Shard string

const (
	ShardAll    Shard = ""
	ShardFirst  Shard = "first"
	ShardSecond Shard = "second"
)

// Universe selects the symbols traded in a pass.
type Universe struct {
	Symbols []string
	Include []string
	Exclude []string
	Shard   Shard
}

// Select returns the configured symbols when present, otherwise the
// exchange listing filtered by the include and exclude globs. The result is
// sorted and then sharded by halves.
func (u Universe) Select(ctx context.Context, gateway broker.Gateway) ([]string, error) {
	var symbols []string
	if len(u.Symbols) > 0 {
		symbols = append(symbols, u.Symbols...)
	} else {
		listed, err := gateway.Symbols(ctx)
		if err != nil {
			return nil, fmt.Errorf("list symbols: %w", err)
		}
		for _, s := range listed {
			ok, err := u.matches(s)
			if err != nil {
				return nil, err
			}
			if ok {
				symbols = append(symbols, s)
			}
		}
	}
	sort.Strings(symbols)
	symbols = dedupe(symbols)

	half := len(symbols) / 2
	switch u.Shard {
	case ShardFirst:
		symbols = symbols[:half]
	case ShardSecond:
		symbols = symbols[half:]
	}
	return symbols, nil
}

func (u Universe) matches(symbol string) (bool, error) {
	include := u.Include
	if len(include) == 0 {
		include = []string{"*"}
	}
	matched := false
	for _, pattern := range include {
		ok, err := doublestar.Match(pattern, symbol)
		if err != nil {
			return false, fmt.Errorf("include pattern %q: %w", pattern, err)
		}
		if ok {
			matched = true
			break
		}
	}
	if !matched {
		return false, nil
	}
	for _, pattern := range u.Exclude {
		ok, err := doublestar.Match(pattern, symbol)
		if err != nil {
			return false, fmt.Errorf("exclude pattern %q: %w", pattern, err)
		}
		if ok {
			return false, nil
		}
	}
	return true, nil
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i > 0 && s == sorted[i-1] {
			continue
		}
		out = append(out, s)
	}
	return out
}
