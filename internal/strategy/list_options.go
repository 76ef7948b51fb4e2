package strategy

import "strings"

// SortOrder defines how results should be ordered when listing runs.
type SortOrder int

const (
	// SortByCreatedDesc orders runs by CreatedAt descending (most recent first).
	SortByCreatedDesc SortOrder = iota
	// SortByCreatedAsc orders runs by CreatedAt ascending (oldest first).
	SortByCreatedAsc
)

// ListOptions controls how runs are selected when querying the store.
type ListOptions struct {
	Limit    int
	Offset   int
	Statuses []RunStatus
	Strategy string
	Order    SortOrder
}

// applyDefaults sanitizes the options and fills in default values.
func (opts *ListOptions) applyDefaults() {
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	if opts.Limit > 100 {
		opts.Limit = 100
	}
	if opts.Offset < 0 {
		opts.Offset = 0
	}
	if opts.Statuses != nil {
		normalized := opts.Statuses[:0]
		for _, status := range opts.Statuses {
			if IsValidRunStatus(status) {
				normalized = append(normalized, status)
			}
		}
		opts.Statuses = normalized
	}
	opts.Strategy = strings.ToLower(strings.TrimSpace(opts.Strategy))
}

func (opts ListOptions) matches(run *Run) bool {
	if opts.Strategy != "" && run.Strategy != opts.Strategy {
		return false
	}
	if len(opts.Statuses) == 0 {
		return true
	}
	for _, status := range opts.Statuses {
		if run.Status == status {
			return true
		}
	}
	return false
}

// ListOption mutates ListOptions.
type ListOption func(*ListOptions)

// WithLimit limits the number of runs returned.
func WithLimit(limit int) ListOption {
	return func(opts *ListOptions) {
		opts.Limit = limit
	}
}

// WithOffset skips the first n matching runs before returning results.
func WithOffset(offset int) ListOption {
	return func(opts *ListOptions) {
		opts.Offset = offset
	}
}

// WithStatuses filters runs by the provided statuses.
func WithStatuses(statuses ...RunStatus) ListOption {
	return func(opts *ListOptions) {
		opts.Statuses = append(opts.Statuses[:0], statuses...)
	}
}

// WithStrategy filters runs by strategy name.
func WithStrategy(name string) ListOption {
	return func(opts *ListOptions) {
		opts.Strategy = name
	}
}

// WithOrder sets the sort order of the results.
func WithOrder(order SortOrder) ListOption {
	return func(opts *ListOptions) {
		opts.Order = order
	}
}

func buildListOptions(opts []ListOption) ListOptions {
	options := ListOptions{}
	for _, opt := range opts {
		if opt != nil {
			opt(&options)
		}
	}
	options.applyDefaults()
	return options
}
