package capture

import (
	"fmt"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
)

// FileSource reads radiotap frames from a pcap file. It implements
// FrameSource.
type FileSource struct {
	f *os.File
	r *pcapgo.Reader
}

// OpenFile opens a monitor-mode pcap capture. The file must carry
// radiotap link-layer headers.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture %s: %w", path, err)
	}
	r, err := pcapgo.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read pcap header of %s: %w", path, err)
	}
	if r.LinkType() != layers.LinkTypeIEEE80211Radio {
		f.Close()
		return nil, fmt.Errorf("capture %s has link type %v, want %v",
			path, r.LinkType(), layers.LinkTypeIEEE80211Radio)
	}
	return &FileSource{f: f, r: r}, nil
}

func (s *FileSource) Close() error { return s.f.Close() }

// Next decodes the next frame. Frames without a radiotap header, a
// transmitter address, or a signal measurement are skipped.
func (s *FileSource) Next() (Frame, error) {
	for {
		data, ci, err := s.r.ReadPacketData()
		if err == io.EOF {
			return Frame{}, io.EOF
		}
		if err != nil {
			return Frame{}, fmt.Errorf("failed to read packet: %w", err)
		}

		pkt := gopacket.NewPacket(data, layers.LayerTypeRadioTap, gopacket.NoCopy)
		rtLayer := pkt.Layer(layers.LayerTypeRadioTap)
		dotLayer := pkt.Layer(layers.LayerTypeDot11)
		if rtLayer == nil || dotLayer == nil {
			continue
		}
		rt := rtLayer.(*layers.RadioTap)
		dot := dotLayer.(*layers.Dot11)

		if !rt.Present.DBMAntennaSignal() || len(dot.Address2) == 0 {
			continue
		}

		frame := Frame{
			TransmitterID: dot.Address2.String(),
			RSSI:          float64(rt.DBMAntennaSignal),
			Management:    dot.Type.MainType() == layers.Dot11TypeMgmt,
			Time:          ci.Timestamp,
		}
		if rt.Present.Channel() {
			frame.FrequencyHz = float64(rt.ChannelFrequency) * 1e6
		}
		return frame, nil
	}
}
