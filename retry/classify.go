package retry

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// ClassifierOptions tune the Azure transient-error classifier.
type ClassifierOptions struct {
	// RetrySpurious403 treats authentication failures (403) as transient.
	// Some storage frontends intermittently reject valid credentials.
	RetrySpurious403 bool

	// RetryDNS treats DNS resolution failures as transient.
	RetryDNS bool
}

// reallyAbsent lists the storage error codes that mean the object genuinely
// does not exist. A 404 carrying any other code is treated as a glitch and
// retried. Note this can stretch a legitimate not-found over one retry
// window when the service returns an unexpected code; the behavior is kept
// for compatibility with the storage frontends this was tuned against.
var reallyAbsent = map[bloberror.Code]bool{
	bloberror.BlobNotFound:      true,
	bloberror.ContainerNotFound: true,
}

// AzureTransient returns a classifier for Azure Storage errors suitable for
// Policy.Transient. It accepts server errors (5xx), connection-establishment
// and TLS failures, optionally spurious 403s and DNS failures, and 404s whose
// error code is not a well-known really-absent code.
func AzureTransient(opts ClassifierOptions) func(error) bool {
	return func(err error) bool {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) {
			switch {
			case respErr.StatusCode >= http.StatusInternalServerError:
				return true
			case respErr.StatusCode == http.StatusForbidden:
				return opts.RetrySpurious403
			case respErr.StatusCode == http.StatusNotFound:
				return !reallyAbsent[bloberror.Code(respErr.ErrorCode)]
			}
			return false
		}

		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) {
			return opts.RetryDNS
		}

		// Connection-establishment and TLS handshake failures.
		var recErr tls.RecordHeaderError
		if errors.As(err, &recErr) {
			return true
		}
		var certErr *tls.CertificateVerificationError
		if errors.As(err, &certErr) {
			return true
		}
		var x509Err x509.UnknownAuthorityError
		if errors.As(err, &x509Err) {
			return true
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return true
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return true
		}
		return false
	}
}
