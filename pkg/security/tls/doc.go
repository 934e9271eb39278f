// Package tls terminates TLS on the gateway listener.
//
// The certificate pair is loaded through a CertificateReloader which polls
// the files and swaps in a renewed certificate without a restart. A reload
// that fails validation keeps serving the previous certificate. Expiry
// inside 30 days is logged as a warning.
package tls
