package clix

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
)

type PaginationParams struct {
	Limit  int
	Offset int
}

// ParsePagination reads the --limit and --offset flags.
func ParsePagination(flags *pflag.FlagSet) (PaginationParams, error) {
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		return PaginationParams{}, fmt.Errorf("offset must not be negative")
	}
	return PaginationParams{Limit: limit, Offset: offset}, nil
}

// ParseCSV splits a comma-separated string flag, trimming spaces and dropping empty items.
func ParseCSV(flags *pflag.FlagSet, name string) []string {
	raw, _ := flags.GetString(name)
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
