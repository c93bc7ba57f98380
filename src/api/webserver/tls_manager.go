package webserver

import (
	"context"
	"crypto/tls"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stake-plus/stakegate/src/logging"
)

// TLSReloader serves the current certificate and swaps in a new one when
// the files on disk change, so renewals need no restart.
type TLSReloader struct {
	certFile string
	keyFile  string
	interval time.Duration
	log      *zap.Logger

	mu          sync.RWMutex
	cert        *tls.Certificate
	lastModCert time.Time
	lastModKey  time.Time
}

func NewTLSReloader(certFile, keyFile string, log *zap.Logger) (*TLSReloader, error) {
	r := &TLSReloader{
		certFile: certFile,
		keyFile:  keyFile,
		interval: 5 * time.Minute,
		log:      logging.OrNop(log),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *TLSReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return err
	}
	certInfo, _ := os.Stat(r.certFile)
	keyInfo, _ := os.Stat(r.keyFile)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.cert = &cert
	if certInfo != nil {
		r.lastModCert = certInfo.ModTime()
	}
	if keyInfo != nil {
		r.lastModKey = keyInfo.ModTime()
	}
	r.log.Info("TLS certificates loaded", zap.String("cert", r.certFile))
	return nil
}

// changed reports whether either file is newer than what is loaded.
func (r *TLSReloader) changed() (bool, error) {
	certInfo, err := os.Stat(r.certFile)
	if err != nil {
		return false, err
	}
	keyInfo, err := os.Stat(r.keyFile)
	if err != nil {
		return false, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return certInfo.ModTime().After(r.lastModCert) || keyInfo.ModTime().After(r.lastModKey), nil
}

// Watch polls the files until ctx is done.
func (r *TLSReloader) Watch(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		ok, err := r.changed()
		if err != nil {
			r.log.Warn("stat TLS files", zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := r.reload(); err != nil {
			r.log.Error("reload TLS certificates", zap.Error(err))
		}
	}
}

func (r *TLSReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

func (r *TLSReloader) GetConfig() *tls.Config {
	return &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		},
	}
}
