package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skypro1111/stream-transcriber/internal/audio"
)

// Sample formats accepted from a remote capture agent
const (
	SampleFormatF32LE = "f32le"
	SampleFormatS16LE = "s16le"
)

// UDPConfig contains network microphone configuration
type UDPConfig struct {
	BindAddress  string
	Port         int
	BufferSize   int
	QueueSize    int
	SampleFormat string
	SampleRate   int
}

// UDPDevice is a network microphone: a remote agent streams raw PCM
// datagrams at a fixed rate and this device re-blocks them into frames.
// Only one stream may hold the socket at a time.
type UDPDevice struct {
	config UDPConfig
	logger *slog.Logger

	mu     sync.Mutex
	active *udpStream
}

// NewUDPDevice creates a network microphone device
func NewUDPDevice(config UDPConfig, logger *slog.Logger) *UDPDevice {
	if config.BufferSize <= 0 {
		config.BufferSize = 65536
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.SampleFormat == "" {
		config.SampleFormat = SampleFormatF32LE
	}
	return &UDPDevice{config: config, logger: logger}
}

// UDPStatistics represents receiver statistics
type UDPStatistics struct {
	PacketsReceived uint64 `json:"packets_received"`
	PacketsDropped  uint64 `json:"packets_dropped"`
	ParseErrors     uint64 `json:"parse_errors"`
	QueueSize       uint64 `json:"queue_size"`
	QueueCapacity   uint64 `json:"queue_capacity"`
}

func (d *UDPDevice) Acquire(ctx context.Context, format Format) (Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active != nil {
		return nil, errors.New("network microphone is busy")
	}

	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", d.config.BindAddress, d.config.Port))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	var lc net.ListenConfig
	pc, err := lc.ListenPacket(ctx, "udp", addr.String())
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP: %w", err)
	}
	conn := pc.(*net.UDPConn)

	if err := conn.SetReadBuffer(d.config.BufferSize); err != nil {
		d.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", d.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	s := &udpStream{
		conn:    conn,
		config:  d.config,
		logger:  d.logger,
		ctx:     streamCtx,
		cancel:  cancel,
		packets: make(chan []float32, d.config.QueueSize),
	}

	s.wg.Add(1)
	go s.receiveLoop()

	d.active = s
	d.logger.Info("Network microphone listening",
		slog.String("address", conn.LocalAddr().String()),
		slog.String("sample_format", d.config.SampleFormat),
		slog.Int("sample_rate", d.config.SampleRate),
	)
	return s, nil
}

func (d *UDPDevice) Release(stream Stream) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, ok := stream.(*udpStream)
	if !ok || s != d.active {
		return errors.New("stream does not belong to this device")
	}
	d.active = nil
	return s.close()
}

// LocalAddr returns the bound address of the active stream, nil when idle
func (d *UDPDevice) LocalAddr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active == nil {
		return nil
	}
	return d.active.conn.LocalAddr()
}

// GetStatistics returns receiver statistics of the active stream
func (d *UDPDevice) GetStatistics() UDPStatistics {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active == nil {
		return UDPStatistics{}
	}
	return d.active.statistics()
}

type udpStream struct {
	conn   *net.UDPConn
	config UDPConfig
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	packets chan []float32
	pending []float32

	mu      sync.Mutex
	readErr error

	packetsReceived atomic.Uint64
	packetsDropped  atomic.Uint64
	parseErrors     atomic.Uint64
}

func (s *udpStream) SampleRate() int {
	return s.config.SampleRate
}

// ReadFrame re-blocks datagrams into frames of len(frame) samples
func (s *udpStream) ReadFrame(ctx context.Context, frame []float32) error {
	filled := copy(frame, s.pending)
	s.pending = s.pending[filled:]

	for filled < len(frame) {
		select {
		case samples, ok := <-s.packets:
			if !ok {
				s.mu.Lock()
				err := s.readErr
				s.mu.Unlock()
				if err == nil {
					err = errors.New("network microphone closed")
				}
				return err
			}
			n := copy(frame[filled:], samples)
			filled += n
			if n < len(samples) {
				s.pending = append(s.pending, samples[n:]...)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// receiveLoop is the datagram receiving loop
func (s *udpStream) receiveLoop() {
	defer s.wg.Done()
	defer close(s.packets)

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		// wake up periodically to observe cancellation
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.fail(fmt.Errorf("failed to set read deadline: %w", err))
			return
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.ctx.Done():
				return
			default:
				s.fail(fmt.Errorf("failed to read UDP packet: %w", err))
				return
			}
		}

		s.packetsReceived.Add(1)

		samples, err := decodeSamples(s.config.SampleFormat, buffer[:n])
		if err != nil {
			s.parseErrors.Add(1)
			s.logger.Warn("Dropping malformed audio datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
				slog.String("error", err.Error()),
			)
			continue
		}

		select {
		case s.packets <- samples:
		default:
			s.packetsDropped.Add(1)
			s.logger.Warn("Audio queue full, dropping datagram",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

func (s *udpStream) fail(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	s.logger.Error("Network microphone failed", slog.String("error", err.Error()))
}

func (s *udpStream) close() error {
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()

	s.logger.Info("Network microphone stopped",
		slog.Uint64("packets_received", s.packetsReceived.Load()),
		slog.Uint64("packets_dropped", s.packetsDropped.Load()),
		slog.Uint64("parse_errors", s.parseErrors.Load()),
	)
	return err
}

func (s *udpStream) statistics() UDPStatistics {
	return UDPStatistics{
		PacketsReceived: s.packetsReceived.Load(),
		PacketsDropped:  s.packetsDropped.Load(),
		ParseErrors:     s.parseErrors.Load(),
		QueueSize:       uint64(len(s.packets)),
		QueueCapacity:   uint64(cap(s.packets)),
	}
}

// decodeSamples parses one datagram payload into float samples
func decodeSamples(format string, data []byte) ([]float32, error) {
	switch format {
	case SampleFormatF32LE:
		if len(data)%4 != 0 {
			return nil, fmt.Errorf("f32le payload length must be a multiple of 4, got %d", len(data))
		}
		out := make([]float32, len(data)/4)
		for i := range out {
			v := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
			if math.IsNaN(float64(v)) {
				return nil, fmt.Errorf("sample %d is NaN", i)
			}
			out[i] = v
		}
		return out, nil
	case SampleFormatS16LE:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("s16le payload length must be even, got %d", len(data))
		}
		out := make([]float32, len(data)/2)
		for i := range out {
			out[i] = audio.Int16ToSample(int16(binary.LittleEndian.Uint16(data[i*2:])))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown sample format %q", format)
	}
}
