// Package bootstrap performs one-time process initialisation: the metrics
// registry, the backend endpoint provider (including AWS credential
// resolution) and the capture device. Controllers are only handed out once
// the runtime has reached the ready phase.
package bootstrap
