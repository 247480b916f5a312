package rc

import (
	"fmt"
	"log"

	"go.bug.st/serial"
)

// iBus runs at a fixed 115200 8N1.
const baudRate = 115200

// Link reads iBus frames from a serial port and delivers decoded
// commands. Frame boundaries are recovered by scanning for the header
// after any decode failure.
type Link struct {
	port serial.Port
	m    InputMap

	frames  uint64
	dropped uint64
}

// Open opens the named serial port for the command link.
func Open(portName string, m InputMap) (*Link, error) {
	p, err := serial.Open(portName, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("rc: open %s: %w", portName, err)
	}
	return &Link{port: p, m: m}, nil
}

// Run reads frames until the port fails, calling deliver for each good
// frame. Corrupt frames are dropped and counted; the stream resyncs on
// the next header.
func (l *Link) Run(deliver func(Command)) error {
	buf := make([]byte, 0, 2*FrameLen)
	tmp := make([]byte, 64)
	for {
		n, err := l.port.Read(tmp)
		if err != nil {
			return fmt.Errorf("rc: read: %w", err)
		}
		buf = append(buf, tmp[:n]...)
		for len(buf) >= FrameLen {
			if buf[0] != 0x20 || buf[1] != 0x40 {
				buf = buf[1:]
				continue
			}
			ch, err := Decode(buf[:FrameLen])
			if err != nil {
				l.dropped++
				log.Printf("RC: %v", err)
				buf = buf[1:]
				continue
			}
			l.frames++
			deliver(l.m.Apply(ch))
			buf = buf[FrameLen:]
		}
	}
}

// Stats reports good and dropped frame counts.
func (l *Link) Stats() (frames, dropped uint64) { return l.frames, l.dropped }

// Close releases the serial port.
func (l *Link) Close() error { return l.port.Close() }
