// Package audio turns captured float frames into the 16-bit PCM the
// transcription backend expects. It holds the fixed full-scale encoder, the
// aggregator that batches encoded chunks into outbound buffers, WAV container
// helpers and a recorder that archives what was sent.
package audio
