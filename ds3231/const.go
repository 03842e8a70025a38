package ds3231

// Addr is the fixed I²C address of the DS3231.
const Addr = 0x68

// Registers.
const (
	RegSeconds byte = 0x00
	RegMinutes byte = 0x01
	RegHours   byte = 0x02
	RegDay     byte = 0x03
	RegDate    byte = 0x04
	RegMonth   byte = 0x05
	RegYear    byte = 0x06
	RegControl byte = 0x0E
	RegStatus  byte = 0x0F
	RegAging   byte = 0x10
	RegTempMSB byte = 0x11
	RegTempLSB byte = 0x12
)

// Control register bits.
const (
	CtrlEOSC  byte = 1 << 7 // oscillator disabled on battery
	CtrlBBSQW byte = 1 << 6
	CtrlCONV  byte = 1 << 5 // force temperature conversion
	CtrlRS2   byte = 1 << 4
	CtrlRS1   byte = 1 << 3
	CtrlINTCN byte = 1 << 2
)

// Status register bits.
const (
	StatusOSF     byte = 1 << 7 // oscillator stopped
	StatusEN32kHz byte = 1 << 3
	StatusBSY     byte = 1 << 2
)

// Rate is the square wave output frequency.
type Rate byte

// Square wave rates.
const (
	Rate1Hz    Rate = 0
	Rate1024Hz Rate = Rate(CtrlRS1)
	Rate4096Hz Rate = Rate(CtrlRS2)
	Rate8192Hz Rate = Rate(CtrlRS2 | CtrlRS1)
)

const (
	timeRegSize = 7
	rateMask    = CtrlRS2 | CtrlRS1
	hour12      = 1 << 6
	pm          = 1 << 5
	century     = 1 << 7
	minYear     = 2000
)
