package main

import (
	"flag"
	"fmt"
	"time"
)

// appConfig holds the parsed command line: request/response ports, the
// broadcast-requests flag, verbosity, plus the metrics/mdns knobs.
type appConfig struct {
	port       int
	httpPort   int
	broadcast  bool
	verbose    bool

	metricsAddr string
	dropDelay   time.Duration

	canIf string

	mdnsEnable bool
	mdnsName   string
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}
	port := flag.Int("port", 5902, "WebSocket request/response + notification port")
	httpPort := flag.Int("http-port", 5903, "HTTP POST request/response port")
	broadcast := flag.Bool("broadcast-requests", false, "Log each request's op at info level (requests are not echoed onto the notification bus)")
	verbose := flag.Bool("verbose", false, "Set the log level to debug")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	dropDelay := flag.Duration("drop-delay", 30*time.Second, "Idle grace period before a transport actor closes its handle")
	canIf := flag.String("can-if", "can0", "Default SocketCAN interface")
	mdnsEnable := flag.Bool("mdns-enable", false, "Enable mDNS/Avahi advertisement")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default instrumentd-<hostname>)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	cfg.port = *port
	cfg.httpPort = *httpPort
	cfg.broadcast = *broadcast
	cfg.verbose = *verbose
	cfg.metricsAddr = *metricsAddr
	cfg.dropDelay = *dropDelay
	cfg.canIf = *canIf
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName

	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

func (c *appConfig) validate() error {
	if c.port <= 0 || c.port > 65535 {
		return fmt.Errorf("port must be 1..65535 (got %d)", c.port)
	}
	if c.httpPort <= 0 || c.httpPort > 65535 {
		return fmt.Errorf("http-port must be 1..65535 (got %d)", c.httpPort)
	}
	if c.dropDelay <= 0 {
		return fmt.Errorf("drop-delay must be > 0")
	}
	return nil
}
