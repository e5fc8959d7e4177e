package mainboilerplate

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Version and BuildDate are populated at link time.
var (
	Version   = "development"
	BuildDate = "unknown"
)

// DiagnosticsConfig configures pull-based application metrics.
type DiagnosticsConfig struct {
	Listen string `long:"listen" env:"LISTEN" description:"Address at which /debug/metrics and /debug/ready are served while a command runs. Disabled if empty"`
}

// InitDiagnostics begins serving Prometheus metrics and a readiness check,
// if configured. It returns a function which stops serving.
func InitDiagnostics(cfg DiagnosticsConfig) func() {
	if cfg.Listen == "" {
		return func() {}
	}
	var ln, err = net.Listen("tcp", cfg.Listen)
	Must(err, "failed to listen for diagnostics", "listen", cfg.Listen)

	var mux = http.NewServeMux()
	mux.HandleFunc("/debug/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.Handle("/debug/metrics", promhttp.Handler())

	var srv = &http.Server{Handler: mux}
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithField("err", err).Warn("diagnostics server failed")
		}
	}()
	log.WithField("addr", ln.Addr()).Info("serving diagnostics")

	return func() { _ = srv.Close() }
}

// Must panics if |err| is non-nil, supplying |msg| and |extra| as
// formatter and fields of the generated panic.
func Must(err error, msg string, extra ...interface{}) {
	if err == nil {
		return
	}
	var f = log.Fields{"err": err}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	log.WithFields(f).Panic(msg)
}
