// Package engine drives one eBUS master-slave transaction through the
// state machine shared by every connected client: arbitrate for the bus,
// send the master telegram, collect the acknowledgement and (for an MS
// telegram) the slave response, then acknowledge it and free the bus.
package engine

import (
	"github.com/mlanger/ebusgw/seq"
	"github.com/mlanger/ebusgw/symbol"
	"github.com/mlanger/ebusgw/telegram"
)

// State is one step of the transaction state machine.
type State int

// Transaction states, in the order a master-slave exchange visits them.
const (
	MonitorBus State = iota
	Arbitration
	SendMessage
	ReceiveAcknowledge
	ReceiveResponse
	SendPositiveAcknowledge
	SendNegativeAcknowledge
	FreeBus
)

func (s State) String() string {
	switch s {
	case MonitorBus:
		return "MonitorBus"
	case Arbitration:
		return "Arbitration"
	case SendMessage:
		return "SendMessage"
	case ReceiveAcknowledge:
		return "ReceiveAcknowledge"
	case ReceiveResponse:
		return "ReceiveResponse"
	case SendPositiveAcknowledge:
		return "SendPositiveAcknowledge"
	case SendNegativeAcknowledge:
		return "SendNegativeAcknowledge"
	default:
		return "FreeBus"
	}
}

// Capability is the set of bus actions the Machine needs from its host:
// the busReady/busWrite/saveResponse triad as three methods of one
// interface.
type Capability interface {
	// BusReady reports whether a write would be accepted right now.
	BusReady() bool
	// BusWrite transmits one byte. Only called after BusReady returned true.
	BusWrite(b byte)
	// SaveResponse delivers the data bytes of the validated slave response
	// of a completed MS transaction, with the leading NN and the CRC
	// stripped.
	SaveResponse(payload []byte)
}

// Machine runs one transaction at a time for a single claimed address.
// Its zero value is ready to use once Address and Cap are set; Reset puts
// it back to MonitorBus between transactions.
type Machine struct {
	Address byte
	Cap     Capability

	state State
	tg    telegram.Telegram

	master         seq.Buffer
	sendIndex      int
	receiveIndex   int
	masterRepeated bool

	slave         seq.Buffer
	slaveNN       int
	slaveRepeated bool

	sendAcknowledge bool
	sendSyn         bool
}

// NewMachine returns a Machine idle at MonitorBus for address.
func NewMachine(address byte, capability Capability) *Machine {
	m := &Machine{Address: address, Cap: capability}
	m.Reset()
	return m
}

// State returns the machine's current step.
func (m *Machine) State() State { return m.state }

// Reset returns the machine to MonitorBus, discarding any in-flight
// transaction.
func (m *Machine) Reset() {
	m.state = MonitorBus
	m.tg.Clear()

	m.master.Clear()
	m.sendIndex = 0
	m.receiveIndex = 0
	m.masterRepeated = false

	m.slave.Clear()
	m.slaveNN = 0
	m.slaveRepeated = false

	m.sendAcknowledge = true
	m.sendSyn = true
}

// Enqueue resets the machine and stages message (ZZ PB SB NN D...) for
// transmission from m.Address. It returns false and leaves the machine at
// MonitorBus if message fails to parse as a master telegram; otherwise
// the machine advances to Arbitration, ready for its claim to win the bus.
func (m *Machine) Enqueue(message []byte) bool {
	m.Reset()
	if err := m.tg.CreateMaster(m.Address, message); err != nil {
		return false
	}

	m.master.Clear()
	m.master.PushPayload(m.tg.Master()...)
	m.master.PushPayload(m.tg.MasterCRC())
	m.state = Arbitration
	return true
}

// Telegram returns the transaction's telegram, valid once the machine has
// reached ReceiveResponse or beyond for an MS transaction, or FreeBus for
// a BC/MM transaction.
func (m *Machine) Telegram() *telegram.Telegram { return &m.tg }

// HandleSend is called whenever the bus may accept a write; it transmits
// the next outstanding byte for the current state, if any.
func (m *Machine) HandleSend() {
	switch m.state {
	case SendMessage:
		if m.Cap.BusReady() && m.sendIndex == m.receiveIndex {
			m.Cap.BusWrite(m.master.At(m.sendIndex))
			m.sendIndex++
		}
	case SendPositiveAcknowledge:
		if m.Cap.BusReady() && m.sendAcknowledge {
			m.sendAcknowledge = false
			m.Cap.BusWrite(symbol.ACK)
		}
	case SendNegativeAcknowledge:
		if m.Cap.BusReady() && m.sendAcknowledge {
			m.sendAcknowledge = false
			m.Cap.BusWrite(symbol.NAK)
		}
	case FreeBus:
		if m.Cap.BusReady() && m.sendSyn {
			m.sendSyn = false
			m.Cap.BusWrite(symbol.SYN)
		}
	}
}

// HandleRecv feeds one observed bus byte through the transaction state
// machine.
func (m *Machine) HandleRecv(b byte) {
	switch m.state {
	case Arbitration:
		if b == m.Address {
			m.sendIndex = 1
			m.receiveIndex = 1
			m.state = SendMessage
		}

	case SendMessage:
		m.receiveIndex++
		if m.receiveIndex >= m.master.Size() {
			m.state = ReceiveAcknowledge
		}

	case ReceiveAcknowledge:
		switch {
		case b == symbol.ACK && m.tg.Type() == telegram.MS:
			m.state = ReceiveResponse
		case b == symbol.ACK:
			m.state = FreeBus
		case !m.masterRepeated:
			m.masterRepeated = true
			m.sendIndex = 1
			m.receiveIndex = 1
			m.state = SendMessage
		default:
			m.state = FreeBus
		}

	case ReceiveResponse:
		m.slave.Push(b, true)

		if m.slave.Size() == 1 {
			m.slaveNN = 1 + int(b) + 1 // NN + data bytes + CRC
		}
		if b == symbol.ESC {
			m.slaveNN++
		}

		if m.slave.Size() >= m.slaveNN {
			if err := m.tg.CreateSlave(m.slave.Raw()); err == nil {
				m.sendAcknowledge = true
				m.state = SendPositiveAcknowledge
				m.Cap.SaveResponse(m.tg.SlavePayload())
			} else {
				m.slave.Clear()
				m.sendAcknowledge = true
				m.state = SendNegativeAcknowledge
			}
		}

	case SendPositiveAcknowledge:
		m.state = FreeBus

	case SendNegativeAcknowledge:
		if !m.slaveRepeated {
			m.slaveRepeated = true
			m.state = ReceiveResponse
		} else {
			m.state = FreeBus
		}

	case FreeBus:
		m.state = MonitorBus
	}
}
