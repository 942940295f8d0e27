package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"

	"kickhunt/huntsync/internal/config"
)

const (
	mdnsServiceType = "_huntsync._tcp"
	mdnsDomain      = "local."
	mdnsFallback    = "huntsync"
	mdnsLabelMax    = 63
)

// advert is what the dashboard announces on the local network.
type advert struct {
	instance string
	port     int
	txt      []string
}

// buildAdvert describes the dashboard endpoints for hostname. Overlay clients read the
// websocket path and, when a broker is configured, the topic prefix from the TXT set.
func buildAdvert(hostname string, cfg config.Config) (advert, error) {
	if cfg.HTTPPort <= 0 {
		return advert{}, fmt.Errorf("invalid port %d", cfg.HTTPPort)
	}
	if hostname == "" {
		hostname = mdnsFallback
	}

	host := sanitizeMDNSHost(hostname)
	if !strings.Contains(host, ".") {
		host += ".local"
	}

	txt := []string{
		"proto=v1",
		"http_port=" + strconv.Itoa(cfg.HTTPPort),
		"ws_path=/ws",
		"api_path=/api",
		"host=" + host,
	}
	if cfg.MQTTBroker != "" {
		txt = append(txt, "mqtt_prefix="+cfg.MQTTTopicPrefix)
	}

	return advert{
		instance: sanitizeMDNSInstance("Hunt Dashboard (" + hostname + ")"),
		port:     cfg.HTTPPort,
		txt:      txt,
	}, nil
}

func (a *App) startMDNS() error {
	a.stopMDNS()

	hostname, _ := os.Hostname()
	ad, err := buildAdvert(hostname, a.cfg)
	if err != nil {
		return err
	}

	server, err := zeroconf.Register(ad.instance, mdnsServiceType, mdnsDomain, ad.port, ad.txt, nil)
	if err != nil {
		return fmt.Errorf("register %s: %w", mdnsServiceType, err)
	}

	a.mdns = server
	a.logger.Info("mDNS advertisement started", "instance", ad.instance, "port", ad.port, "txt", ad.txt)
	return nil
}

func (a *App) stopMDNS() {
	if a.mdns == nil {
		return
	}

	a.mdns.Shutdown()
	a.mdns = nil
	a.logger.Info("mDNS advertisement stopped")
}

// sanitizeMDNSInstance folds separators that DNS-SD treats specially into single spaces.
func sanitizeMDNSInstance(name string) string {
	cleaned := strings.Join(strings.FieldsFunc(name, func(r rune) bool {
		return r == '.' || r == '_' || r == ' ' || r == '\n' || r == '\r' || r == '\t'
	}), " ")
	if cleaned == "" {
		cleaned = "Hunt Dashboard"
	}
	return truncateRunes(cleaned, mdnsLabelMax)
}

// sanitizeMDNSHost lowercases name into a single DNS label of letters, digits and dashes.
func sanitizeMDNSHost(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '_' || r == '-':
			b.WriteByte('-')
		}
	}
	cleaned := strings.Trim(b.String(), "-.")
	if cleaned == "" {
		cleaned = mdnsFallback
	}
	return truncateRunes(cleaned, mdnsLabelMax)
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
