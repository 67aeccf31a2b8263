package journal

import (
	"fmt"

	"github.com/rustyeddy/straddle/config"
)

// Open builds the journal selected by cfg.
func Open(cfg config.JournalConfig) (Journal, error) {
	switch cfg.Type {
	case "", "none":
		return Nop{}, nil
	case "csv":
		j, err := NewCSV(cfg.FillsFile, cfg.ActionsFile, cfg.MTMFile)
		if err != nil {
			return nil, fmt.Errorf("open csv journal: %w", err)
		}
		return j, nil
	case "sqlite":
		j, err := NewSQLite(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite journal: %w", err)
		}
		return j, nil
	case "postgres":
		j, err := NewPostgres(cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open postgres journal: %w", err)
		}
		return j, nil
	default:
		return nil, fmt.Errorf("unknown journal type %q", cfg.Type)
	}
}
