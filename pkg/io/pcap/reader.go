// Package pcap turns captured network packets into feature vectors for the
// detectors, from capture files or a live interface.
package pcap

import (
	"context"
	"errors"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcap"
)

// Reader reads packets from a capture file or a live interface and extracts
// one feature vector per packet.
type Reader struct {
	handle    *pcap.Handle
	extractor *PacketFeatures
	live      bool
}

// Option configures a Reader.
type Option func(*Reader) error

// WithBPF applies a BPF filter expression to the capture.
func WithBPF(filter string) Option {
	return func(r *Reader) error {
		return r.handle.SetBPFFilter(filter)
	}
}

// NewFileReader opens a capture file.
func NewFileReader(filename string, opts ...Option) (*Reader, error) {
	handle, err := pcap.OpenOffline(filename)
	if err != nil {
		return nil, err
	}
	return newReader(handle, false, opts)
}

// NewLiveReader opens a live capture on the given interface.
func NewLiveReader(iface string, snaplen int32, promisc bool, timeout time.Duration, opts ...Option) (*Reader, error) {
	handle, err := pcap.OpenLive(iface, snaplen, promisc, timeout)
	if err != nil {
		return nil, err
	}
	return newReader(handle, true, opts)
}

func newReader(handle *pcap.Handle, live bool, opts []Option) (*Reader, error) {
	r := &Reader{
		handle:    handle,
		extractor: NewPacketFeatures(),
		live:      live,
	}
	for _, opt := range opts {
		if err := opt(r); err != nil {
			handle.Close()
			return nil, err
		}
	}
	return r, nil
}

// Read drains the capture and returns one feature vector per packet. Only
// sensible for file captures; a live capture never reaches EOF.
func (r *Reader) Read() ([][]float64, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}
	if r.live {
		return nil, errors.New("cannot drain a live capture, use Stream")
	}

	var data [][]float64
	source := gopacket.NewPacketSource(r.handle, r.handle.LinkType())
	for packet := range source.Packets() {
		if features := r.extractor.vector(packet); features != nil {
			data = append(data, features)
		}
	}
	return data, nil
}

// Stream returns a channel of feature vectors, one per captured packet.
func (r *Reader) Stream(ctx context.Context) (<-chan []float64, error) {
	if r.handle == nil {
		return nil, errors.New("reader not initialized")
	}

	out := make(chan []float64, 1000)
	source := gopacket.NewPacketSource(r.handle, r.handle.LinkType())

	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case packet, ok := <-source.Packets():
				if !ok {
					return
				}
				features := r.extractor.vector(packet)
				if features == nil {
					continue
				}
				select {
				case out <- features:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// Close releases the capture handle.
func (r *Reader) Close() error {
	if r.handle != nil {
		r.handle.Close()
	}
	return nil
}

// PacketFeatures extracts numeric features from network packets. The
// inter-arrival feature is stateful, so one extractor belongs to exactly one
// packet sequence.
type PacketFeatures struct {
	lastSeen time.Time
}

// NewPacketFeatures creates a packet feature extractor.
func NewPacketFeatures() *PacketFeatures {
	return &PacketFeatures{}
}

// Extract converts a gopacket.Packet into a feature vector. It implements
// the io.FeatureExtractor interface.
func (e *PacketFeatures) Extract(record any) ([]float64, error) {
	packet, ok := record.(gopacket.Packet)
	if !ok {
		return nil, errors.New("record is not a gopacket.Packet")
	}
	return e.vector(packet), nil
}

// FeatureNames returns the names of the extracted features, in order.
func (e *PacketFeatures) FeatureNames() []string {
	return []string{
		"frame_len",
		"inter_arrival_sec",
		"ip_proto",
		"src_port",
		"dst_port",
		"tcp_flags",
		"ttl",
		"payload_len",
	}
}

func (e *PacketFeatures) vector(packet gopacket.Packet) []float64 {
	f := make([]float64, 8)

	f[0] = float64(len(packet.Data()))
	f[1] = e.interArrival(packet)

	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		tcp := packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		f[2] = float64(layers.IPProtocolTCP)
		f[3] = float64(tcp.SrcPort)
		f[4] = float64(tcp.DstPort)
		f[5] = tcpFlagBits(tcp)
	case packet.Layer(layers.LayerTypeUDP) != nil:
		udp := packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		f[2] = float64(layers.IPProtocolUDP)
		f[3] = float64(udp.SrcPort)
		f[4] = float64(udp.DstPort)
	case packet.Layer(layers.LayerTypeICMPv4) != nil:
		f[2] = float64(layers.IPProtocolICMPv4)
	}

	if ipLayer := packet.Layer(layers.LayerTypeIPv4); ipLayer != nil {
		f[6] = float64(ipLayer.(*layers.IPv4).TTL)
	}
	if app := packet.ApplicationLayer(); app != nil {
		f[7] = float64(len(app.Payload()))
	}

	return f
}

func (e *PacketFeatures) interArrival(packet gopacket.Packet) float64 {
	meta := packet.Metadata()
	if meta == nil || meta.Timestamp.IsZero() {
		return 0
	}
	var delta float64
	if !e.lastSeen.IsZero() {
		delta = meta.Timestamp.Sub(e.lastSeen).Seconds()
	}
	e.lastSeen = meta.Timestamp
	return delta
}

// tcpFlagBits packs the TCP flags into a single numeric feature.
func tcpFlagBits(tcp *layers.TCP) float64 {
	var bits int
	for i, set := range []bool{tcp.FIN, tcp.SYN, tcp.RST, tcp.PSH, tcp.ACK, tcp.URG} {
		if set {
			bits |= 1 << i
		}
	}
	return float64(bits)
}
