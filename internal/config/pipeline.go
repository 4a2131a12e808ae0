package config

import (
	"fmt"

	"github.com/tjfontaine/discordgw/internal/pipeline"
)

// ToPipelineConfig translates the koanf-loaded pipeline settings into a
// pipeline.Config, resolving the overflow strategy string.
func (c PipelineConfig) ToPipelineConfig(credentials, userAgent string) (pipeline.Config, error) {
	strategy, err := parseOverflowStrategy(c.OverflowStrategy)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Credentials:      credentials,
		UserAgent:        userAgent,
		BufferSize:       c.BufferSize,
		OverflowStrategy: strategy,
		MaxAllowedWait:   c.MaxAllowedWait,
		Parallelism:      c.Parallelism,
	}, nil
}

func parseOverflowStrategy(s string) (pipeline.OverflowStrategy, error) {
	switch s {
	case "back-pressure", "":
		return pipeline.BackPressure, nil
	case "drop-newest":
		return pipeline.DropNewest, nil
	case "drop-oldest":
		return pipeline.DropOldest, nil
	case "drop-buffer":
		return pipeline.DropBuffer, nil
	case "fail":
		return pipeline.Fail, nil
	default:
		return 0, fmt.Errorf("config: unknown pipeline.overflow_strategy %q", s)
	}
}
