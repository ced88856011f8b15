package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/integractl/internal/channel"
	"github.com/danmuck/integractl/internal/datalink"
	"github.com/danmuck/integractl/internal/protocol"
	"github.com/danmuck/integractl/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fleet.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestTemplatesLoadAndValidate(t *testing.T) {
	testlog.Start(t)
	for _, kind := range []string{"fleet", "tls", "serial"} {
		path := filepath.Join(t.TempDir(), kind+".toml")
		require.NoError(t, WriteTemplate(path, kind, false))
		cfg, err := LoadFleetConfig(path)
		require.NoError(t, err, kind)
		require.NotEmpty(t, cfg.Terminals, kind)
	}
}

func TestWriteTemplateRefusesOverwrite(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "fleet.toml")
	require.NoError(t, WriteTemplate(path, "fleet", false))
	require.Error(t, WriteTemplate(path, "fleet", false))
	require.NoError(t, WriteTemplate(path, "fleet", true))

	_, err := Template("mystery")
	require.Error(t, err)
}

func TestLoadFleetConfigAppliesDefinedKeysOnly(t *testing.T) {
	testlog.Start(t)
	path := writeConfig(t, `
name = "lanes"
admin_token = " s3cret "
backoff_initial = "100ms"

[[terminals]]
name = " lane-1 "
reconnect = true
[terminals.channel]
Channel = "ChannelSocketClient"
Host = "127.0.0.1"
Port = "5010"
`)
	cfg, err := LoadFleetConfig(path)
	require.NoError(t, err)
	require.Equal(t, "lanes", cfg.Name)
	require.Equal(t, ":9400", cfg.MetricsAddr)
	require.Equal(t, "s3cret", cfg.AdminToken)
	require.Equal(t, 100*time.Millisecond, cfg.Session.Backoff.InitialDelay)
	require.Equal(t, 5*time.Second, cfg.Session.Backoff.MaxDelay)

	specs := cfg.Specs()
	require.Len(t, specs, 1)
	require.Equal(t, "lane-1", specs[0].Name)
	require.True(t, specs[0].Reconnect)
	require.Equal(t, datalink.TypeStxEtxCrc, specs[0].Datalink[datalink.KeyDatalink])
	require.Equal(t, channel.TypeSocketClient, specs[0].Channel[channel.KeyChannel])
}

func TestLoadFleetConfigRejectsBadEntries(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"no terminals": `name = "x"`,
		"missing port": `
[[terminals]]
name = "a"
[terminals.channel]
Channel = "ChannelSocketClient"
Host = "127.0.0.1"
`,
		"duplicate": `
[[terminals]]
name = "a"
[terminals.channel]
Channel = "ChannelSerial"
Device = "/dev/ttyS0"
[[terminals]]
name = "a"
[terminals.channel]
Channel = "ChannelSerial"
Device = "/dev/ttyS1"
`,
		"bad backoff": `
backoff_initial = "soon"
[[terminals]]
name = "a"
[terminals.channel]
Channel = "ChannelSerial"
Device = "/dev/ttyS0"
`,
		"unknown key": `
colour = "blue"
[[terminals]]
name = "a"
[terminals.channel]
Channel = "ChannelSerial"
Device = "/dev/ttyS0"
`,
	}
	for name, body := range cases {
		_, err := LoadFleetConfig(writeConfig(t, body))
		require.Error(t, err, name)
	}

	_, err := LoadFleetConfig(filepath.Join(t.TempDir(), "absent.toml"))
	require.Error(t, err)
}

func TestValidateTerminalSurfacesOptionErrors(t *testing.T) {
	testlog.Start(t)
	err := ValidateTerminal(TerminalConfig{
		Name:     "a",
		Channel:  map[string]string{channel.KeyChannel: channel.TypeSocketClient, channel.KeyHost: "h"},
		Datalink: map[string]string{datalink.KeyDatalink: datalink.TypeStxEtxCrc},
	})
	require.Equal(t, protocol.InvalidOptions, protocol.KindOf(err))

	err = ValidateTerminal(TerminalConfig{
		Name:     "a",
		Channel:  map[string]string{channel.KeyChannel: channel.TypeSerial, channel.KeyDevice: "/dev/ttyS0"},
		Datalink: map[string]string{datalink.KeyDatalink: "Nope"},
	})
	require.ErrorIs(t, err, protocol.ErrUnknownType)
}
