package spf

import "blitiri.com.ar/go/log"

// Operational logging for this package. The evaluation engine itself never
// logs: the Result/Hook types already carry everything a caller needs to
// know about why a check came out the way it did. What does log is
// infrastructure that can fail in ways a Result can't represent well,
// namely the stub resolver's resolv.conf bootstrap and its exchanges with
// the configured nameservers.
//
// Library and call shape (package-level log.Errorf/Infof/Debugf against a
// swappable log.Default) are grounded on albertito-chasquid, the one repo in
// this pack that embeds an SPF checker in a long-running daemon and uses
// blitiri.com.ar/go/log for exactly this kind of operational diagnostic.
func logResolverBootstrapFailure(path string, err error) {
	log.Errorf("spf: failed to load resolver config %q: %v", path, err)
}

func logDNSExchangeFailure(server string, err error) {
	log.Debugf("spf: DNS exchange with %q failed: %v", server, err)
}

// SetLevel adjusts the verbosity of this package's operational logging.
// Accepted values are "debug", "info", and "error" (the default); anything
// else is treated as "error". Exposed so cmd/spf's -log-level flag has
// something to wire into, the same way chasquid's own -v flag adjusts
// log.Default.Level.
func SetLevel(level string) {
	switch level {
	case "debug":
		log.Default.Level = log.Debug
	case "info":
		log.Default.Level = log.Info
	default:
		log.Default.Level = log.Error
	}
}
