package source

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/wernerhzigby/pulse-ecg-monitor/internal/ecg"
)

// DefaultADS1115Addr is the I²C address with the ADDR pin tied to GND.
const DefaultADS1115Addr = 0x48

const (
	regConversion = 0x00
	regConfig     = 0x01

	// continuous conversion of AIN0 against GND, ±4.096 V, 860 SPS,
	// comparator disabled
	ads1115ContinuousAIN0 = 0x42E3
)

var hostInit = sync.OnceValue(func() error {
	_, err := host.Init()
	return err
})

// ADS1115 reads single-ended channel 0 of a TI ADS1115 in continuous mode.
// Each call to Next performs one I²C transaction; bus errors are reported as
// transient faults.
type ADS1115 struct {
	dev    *i2c.Dev
	closer io.Closer
	now    func() time.Time
}

// OpenADS1115 initialises the host drivers, opens the named I²C bus ("" picks
// the first available) and configures the converter at addr.
func OpenADS1115(busName string, addr uint16) (*ADS1115, error) {
	if err := hostInit(); err != nil {
		return nil, fmt.Errorf("init host drivers: %w", err)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, fmt.Errorf("open i2c bus %q: %w", busName, err)
	}
	a, err := NewADS1115(bus, addr)
	if err != nil {
		_ = bus.Close()
		return nil, err
	}
	a.closer = bus
	return a, nil
}

// NewADS1115 configures the converter on an already opened bus. The caller
// keeps ownership of bus.
func NewADS1115(bus i2c.Bus, addr uint16) (*ADS1115, error) {
	dev := &i2c.Dev{Bus: bus, Addr: addr}

	cfg := make([]byte, 3)
	cfg[0] = regConfig
	binary.BigEndian.PutUint16(cfg[1:], ads1115ContinuousAIN0)
	if err := dev.Tx(cfg, nil); err != nil {
		return nil, fmt.Errorf("configure ads1115@%#x: %w", addr, err)
	}

	return &ADS1115{dev: dev, now: time.Now}, nil
}

// Next reads the latest conversion result.
func (a *ADS1115) Next(ctx context.Context) (ecg.Sample, error) {
	if err := ctx.Err(); err != nil {
		return ecg.Sample{}, err
	}

	var buf [2]byte
	if err := a.dev.Tx([]byte{regConversion}, buf[:]); err != nil {
		return ecg.Sample{}, Transient(fmt.Errorf("read conversion: %w", err))
	}

	return ecg.Sample{
		Timestamp: a.now(),
		Amplitude: int(int16(binary.BigEndian.Uint16(buf[:]))),
	}, nil
}

// Info reports the converter as working hardware.
func (a *ADS1115) Info() Info {
	return Info{
		Name:       fmt.Sprintf("ads1115@%#x", a.dev.Addr),
		HardwareOK: true,
	}
}

// Close releases the bus if it was opened by [OpenADS1115].
func (a *ADS1115) Close() error {
	if a.closer == nil {
		return nil
	}
	err := a.closer.Close()
	a.closer = nil
	return err
}

var _ Source = (*ADS1115)(nil)
