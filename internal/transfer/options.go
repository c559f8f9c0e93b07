package transfer

import (
	"time"

	"github.com/radek00/PeerDrop/internal/config"
	"github.com/radek00/PeerDrop/internal/utils"
)

// Options tune one transfer.
type Options struct {
	ChunkSize     int
	FlowWindow    int64 // bytes
	StallTimeout  time.Duration
	LingerTimeout time.Duration
	DrainTimeout  time.Duration
}

func DefaultOptions() Options {
	return Options{
		ChunkSize:     config.DefaultChunkSize,
		FlowWindow:    int64(config.DefaultFlowWindow * config.DefaultChunkSize),
		StallTimeout:  config.DefaultStallTimeout,
		LingerTimeout: 5 * time.Second,
		DrainTimeout:  time.Duration(utils.DrainTimeout) * time.Second,
	}
}

// OptionsFromConfig applies the transfer settings of cfg over the defaults.
func OptionsFromConfig(cfg *config.Config) Options {
	opts := DefaultOptions()
	opts.ChunkSize = cfg.ChunkSize
	opts.FlowWindow = cfg.FlowWindowBytes()
	opts.StallTimeout = cfg.StallTimeout
	return opts
}
