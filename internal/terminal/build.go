package terminal

import (
	"github.com/danmuck/integractl/internal/channel"
	"github.com/danmuck/integractl/internal/datalink"
	"github.com/danmuck/integractl/internal/protocol/schema"
	"github.com/danmuck/integractl/internal/protocol/session"
)

// New builds an unstarted Client for the named terminal from channel and
// datalink option maps. With cfg.Reconnect set and no Redial, the channel
// options are reused to build replacement channels.
func New(name string, channelOpts, datalinkOpts map[string]string, cfg session.Config) (*Client, error) {
	ch, err := channel.New(channelOpts)
	if err != nil {
		return nil, err
	}
	link, err := datalink.New(datalinkOpts)
	if err != nil {
		return nil, err
	}
	if name != "" {
		cfg.Label = name
	}
	if cfg.Reconnect && cfg.Redial == nil {
		opts := schema.Copy(channelOpts)
		cfg.Redial = func() (channel.Channel, error) { return channel.New(opts) }
	}
	return NewClient(session.New(ch, link, cfg)), nil
}
