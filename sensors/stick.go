package sensors

import (
	"log"
	"time"

	"github.com/kidoman/embd"
	_ "github.com/kidoman/embd/host/all"
	_ "github.com/kidoman/embd/host/rpi"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ADXL345 accelerometer
const (
	ADXL_ADDRESS     = 0x53
	ADXL_BW_RATE     = 0x2C
	ADXL_POWER_CTL   = 0x2D
	ADXL_DATA_FORMAT = 0x31
	ADXL_DATAX0      = 0x32

	ADXL_BW_100HZ  = 0x0A
	ADXL_MEASURE   = 0x08
	ADXL_FULL_RES  = 0x08
	ADXL_RANGE_2G  = 0x00
	ADXL_STANDBY   = 0x00
	adxlDataLength = 6
)

// ITG3200 gyro
const (
	ITG_ADDRESS     = 0x68
	ITG_SMPLRT_DIV  = 0x15
	ITG_DLPF_FS     = 0x16
	ITG_GYRO_XOUT_H = 0x1D
	ITG_PWR_MGM     = 0x3E

	ITG_FS_2000DPS  = 0x18 // FS_SEL=3, the only supported full scale
	ITG_DLPF_42HZ   = 0x03
	ITG_CLK_PLL_X   = 0x01
	ITG_SLEEP       = 0x40
	ITG_SENSITIVITY = 14.375 // LSB per deg/s
	itgDataLength   = 6
)

// HMC5883L magnetometer
const (
	HMC_ADDRESS = 0x1E
	HMC_CRA     = 0x00
	HMC_CRB     = 0x01
	HMC_MODE    = 0x02
	HMC_DATA    = 0x03

	HMC_AVG_8      = 0x60 // Average 8 samples per measurement
	hmcRateShift   = 2
	hmcGainShift   = 5
	hmcDataLength  = 6
	defaultMagGain = 1
)

// Bus is the part of an embd.I2CBus the Stick talks through.
type Bus interface {
	ReadFromReg(addr, reg byte, value []byte) error
	WriteByteToReg(addr, reg, value byte) error
	Close() error
}

// Stick is a 9DOF sensor stick: an ADXL345 accelerometer, an ITG3200 gyro
// and an HMC5883L magnetometer sharing one I2C bus.
type Stick struct {
	bus Bus

	magBias MagBias
	magRate MagRate
	magMode MagMode

	buf [6]byte
}

// OpenStick opens I2C bus busNum and initializes the stick on it.
func OpenStick(busNum byte) (*Stick, error) {
	return NewStick(embd.NewI2CBus(busNum))
}

// NewStick initializes the three parts on bus: accelerometer measuring at
// 100Hz full resolution, gyro at full scale with a 42Hz low pass filter, and
// magnetometer in single measurement mode at 75Hz.
func NewStick(bus Bus) (*Stick, error) {
	s := &Stick{bus: bus, magRate: MagRate75, magMode: MagModeSingle}

	steps := []struct {
		addr, reg, value byte
	}{
		{ADXL_ADDRESS, ADXL_BW_RATE, ADXL_BW_100HZ},
		{ADXL_ADDRESS, ADXL_DATA_FORMAT, ADXL_FULL_RES | ADXL_RANGE_2G},
		{ADXL_ADDRESS, ADXL_POWER_CTL, ADXL_MEASURE},
		{ITG_ADDRESS, ITG_PWR_MGM, ITG_CLK_PLL_X},
		{ITG_ADDRESS, ITG_SMPLRT_DIV, 0x00},
		{ITG_ADDRESS, ITG_DLPF_FS, ITG_FS_2000DPS | ITG_DLPF_42HZ},
		{HMC_ADDRESS, HMC_CRA, s.cra()},
		{HMC_ADDRESS, HMC_CRB, defaultMagGain << hmcGainShift},
		{HMC_ADDRESS, HMC_MODE, byte(s.magMode)},
	}
	for _, st := range steps {
		if err := s.write(st.addr, st.reg, st.value); err != nil {
			return nil, errors.Wrap(err, "initializing sensor stick")
		}
	}
	time.Sleep(10 * time.Millisecond)
	log.Println("IMU Info: sensor stick initialized")
	return s, nil
}

// ReadAcceleration reads the ADXL345, little endian x, y, z.
func (s *Stick) ReadAcceleration() (x, y, z int16, err error) {
	b := s.buf[:adxlDataLength]
	if err = s.bus.ReadFromReg(ADXL_ADDRESS, ADXL_DATAX0, b); err != nil {
		return 0, 0, 0, errors.Wrap(err, "reading ADXL345")
	}
	x = int16(uint16(b[1])<<8 | uint16(b[0]))
	y = int16(uint16(b[3])<<8 | uint16(b[2]))
	z = int16(uint16(b[5])<<8 | uint16(b[4]))
	return x, y, z, nil
}

// ReadAngularRate reads the ITG3200, big endian x, y, z.
func (s *Stick) ReadAngularRate() (x, y, z int16, err error) {
	b := s.buf[:itgDataLength]
	if err = s.bus.ReadFromReg(ITG_ADDRESS, ITG_GYRO_XOUT_H, b); err != nil {
		return 0, 0, 0, errors.Wrap(err, "reading ITG3200")
	}
	x = int16(uint16(b[0])<<8 | uint16(b[1]))
	y = int16(uint16(b[2])<<8 | uint16(b[3]))
	z = int16(uint16(b[4])<<8 | uint16(b[5]))
	return x, y, z, nil
}

// ReadMagneticField reads the HMC5883L, which stores big endian x, z, y.
// In single measurement mode the next measurement is triggered after the read.
func (s *Stick) ReadMagneticField() (x, y, z int16, err error) {
	b := s.buf[:hmcDataLength]
	if err = s.bus.ReadFromReg(HMC_ADDRESS, HMC_DATA, b); err != nil {
		return 0, 0, 0, errors.Wrap(err, "reading HMC5883L")
	}
	x = int16(uint16(b[0])<<8 | uint16(b[1]))
	z = int16(uint16(b[2])<<8 | uint16(b[3]))
	y = int16(uint16(b[4])<<8 | uint16(b[5]))
	if s.magMode == MagModeSingle {
		if err = s.write(HMC_ADDRESS, HMC_MODE, byte(MagModeSingle)); err != nil {
			return x, y, z, errors.Wrap(err, "triggering HMC5883L measurement")
		}
	}
	return x, y, z, nil
}

// SetMagSelfTest sets the HMC5883L measurement bias and gain (0 to MaxMagGain).
func (s *Stick) SetMagSelfTest(bias MagBias, gain uint8) error {
	if bias > MagBiasNegative {
		return errors.Errorf("invalid magnetometer bias %d", bias)
	}
	if gain > MaxMagGain {
		return errors.Errorf("invalid magnetometer gain %d", gain)
	}
	s.magBias = bias
	if err := s.write(HMC_ADDRESS, HMC_CRA, s.cra()); err != nil {
		return errors.Wrap(err, "setting HMC5883L bias")
	}
	if err := s.write(HMC_ADDRESS, HMC_CRB, gain<<hmcGainShift); err != nil {
		return errors.Wrap(err, "setting HMC5883L gain")
	}
	return nil
}

// SetMagMode sets the HMC5883L output rate and measurement mode.
func (s *Stick) SetMagMode(mode MagMode, rate MagRate) error {
	if mode > MagModeIdle {
		return errors.Errorf("invalid magnetometer mode %d", mode)
	}
	if rate > MagRate75 {
		return errors.Errorf("invalid magnetometer rate %d", rate)
	}
	s.magRate = rate
	if err := s.write(HMC_ADDRESS, HMC_CRA, s.cra()); err != nil {
		return errors.Wrap(err, "setting HMC5883L rate")
	}
	if err := s.write(HMC_ADDRESS, HMC_MODE, byte(mode)); err != nil {
		return errors.Wrap(err, "setting HMC5883L mode")
	}
	s.magMode = mode
	return nil
}

// Close puts all three parts to sleep and closes the bus.
func (s *Stick) Close() error {
	err := s.write(HMC_ADDRESS, HMC_MODE, byte(MagModeIdle))
	err = multierr.Combine(err,
		s.write(ADXL_ADDRESS, ADXL_POWER_CTL, ADXL_STANDBY),
		s.write(ITG_ADDRESS, ITG_PWR_MGM, ITG_SLEEP),
		s.bus.Close(),
	)
	return err
}

func (s *Stick) cra() byte {
	return HMC_AVG_8 | byte(s.magRate)<<hmcRateShift | byte(s.magBias)
}

func (s *Stick) write(addr, reg, value byte) error {
	if err := s.bus.WriteByteToReg(addr, reg, value); err != nil {
		return errors.Wrapf(err, "writing %#x to register %#x of device %#x", value, reg, addr)
	}
	return nil
}
