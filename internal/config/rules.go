package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"

	"reddot-watch/newsbatch/internal/dedupe"
)

type rulesFile struct {
	Canonical struct {
		KeepQuery    *[]string `toml:"keep_query"`
		DropPrefixes *[]string `toml:"drop_prefixes"`
		DropParams   *[]string `toml:"drop_params"`
	} `toml:"canonical"`
}

// LoadRules reads URL canonicalization rules from a TOML file:
//
//	[canonical]
//	keep_query    = ["id", "cid", "sid", "ref"]
//	drop_prefixes = ["utm_"]
//	drop_params   = ["fbclid", "gclid", "igshid", "spm"]
//
// An empty path or a missing file yields the defaults, and each list left
// out of the file keeps its default. An explicitly empty list is honoured.
// NEWSBATCH_KEEP_QUERY, NEWSBATCH_DROP_PREFIXES and NEWSBATCH_DROP_PARAMS
// (comma-separated) override the file.
func LoadRules(path string) (dedupe.Rules, error) {
	rules := dedupe.DefaultRules()

	if path != "" {
		if err := readRulesFile(path, &rules); err != nil {
			return rules, err
		}
	}

	rules.KeepQuery = GetEnvList("NEWSBATCH_KEEP_QUERY", rules.KeepQuery)
	rules.DropPrefixes = GetEnvList("NEWSBATCH_DROP_PREFIXES", rules.DropPrefixes)
	rules.DropParams = GetEnvList("NEWSBATCH_DROP_PARAMS", rules.DropParams)

	log.Debug().
		Strs("keep_query", rules.KeepQuery).
		Strs("drop_prefixes", rules.DropPrefixes).
		Strs("drop_params", rules.DropParams).
		Msg("Canonicalization rules")
	return rules, nil
}

func readRulesFile(path string, rules *dedupe.Rules) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warn().Str("path", path).Msg("Rules file not found, using built-in canonicalization rules")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read rules file: %w", err)
	}

	var f rulesFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("failed to parse rules file %s: %w", path, err)
	}

	if f.Canonical.KeepQuery != nil {
		rules.KeepQuery = *f.Canonical.KeepQuery
	}
	if f.Canonical.DropPrefixes != nil {
		rules.DropPrefixes = *f.Canonical.DropPrefixes
	}
	if f.Canonical.DropParams != nil {
		rules.DropParams = *f.Canonical.DropParams
	}

	log.Info().Str("path", path).Msg("Loaded canonicalization rules file")
	return nil
}
