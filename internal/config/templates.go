package config

import (
	"fmt"
	"os"
	"strings"
)

func Template(kind string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "fleet":
		return fleetTemplate, nil
	case "tls":
		return tlsTemplate, nil
	case "serial":
		return serialTemplate, nil
	default:
		return "", fmt.Errorf("unknown config kind: %s", kind)
	}
}

func WriteTemplate(path, kind string, overwrite bool) error {
	template, err := Template(kind)
	if err != nil {
		return err
	}
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(template), 0o600)
}

const fleetTemplate = `name = "integractl"
metrics_addr = ":9400"
# admin_token = "change-me"
max_reconnect_attempts = 0
backoff_initial = "250ms"
backoff_max = "5s"

[[terminals]]
name = "lane-1"
reconnect = true

[terminals.channel]
Channel = "ChannelSocketClient"
Host = "127.0.0.1"
Port = "5010"
Timeout = "30"

[terminals.datalink]
Datalink = "DatalinkStxEtxCrcSendAckSeqCounter"
AckTimeout = "7000"
AckMaxRetries = "3"
KeepAliveInterval = "0"

[[terminals]]
name = "lane-2"
reconnect = true

[terminals.channel]
Channel = "ChannelSocketClient"
Host = "127.0.0.1"
Port = "5011"
`

const tlsTemplate = `name = "integractl-tls"
metrics_addr = ":9400"

[[terminals]]
name = "lane-tls"
reconnect = true

[terminals.channel]
Channel = "ChannelTlsSocketClient"
Host = "terminal.local"
Port = "5443"
TlsCaFile = "certs/ca.pem"
TlsCertFile = "certs/client.pem"
TlsKeyFile = "certs/client-key.pem"

[terminals.datalink]
Datalink = "DatalinkStxEtxCrcSendAckSeqCounter"
`

const serialTemplate = `name = "integractl-serial"
metrics_addr = ":9400"

[[terminals]]
name = "counter"
reconnect = false

[terminals.channel]
Channel = "ChannelSerial"
Device = "/dev/ttyUSB0"
BaudRate = "115200"
DataBits = "8"
Parity = "N"
StopBits = "1"

[terminals.datalink]
Datalink = "DatalinkStxEtxCrcSendAckSeqCounter"
KeepAliveInterval = "5"
`
