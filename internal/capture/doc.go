// Package capture produces fixed-size frames of mono float samples from an
// audio device. Devices own acquisition and any rate conversion; Source
// turns a device into a lazy frame channel with exactly-once release.
package capture
