package models

import (
	"math"
	"time"
)

// StationStatus is the lifecycle state of a charging station.
type StationStatus string

const (
	StationNew         StationStatus = "NEW"
	StationActive      StationStatus = "ACTIVE"
	StationMaintenance StationStatus = "MAINTENANCE"
	StationOutOfOrder  StationStatus = "OUT_OF_ORDER"
)

// StationStatuses lists every station state, in display order.
var StationStatuses = []StationStatus{StationActive, StationNew, StationMaintenance, StationOutOfOrder}

// PortStatus is the allocation state of a single charging port.
type PortStatus string

const (
	PortFree     PortStatus = "FREE"
	PortReserved PortStatus = "RESERVED"
	PortCharging PortStatus = "CHARGING"
	PortError    PortStatus = "ERROR"
)

// SessionStatus is the lifecycle state of a charging session.
type SessionStatus string

const (
	SessionStarted     SessionStatus = "STARTED"
	SessionInProgress  SessionStatus = "IN_PROGRESS"
	SessionCompleted   SessionStatus = "COMPLETED"
	SessionInterrupted SessionStatus = "INTERRUPTED"
	SessionFailed      SessionStatus = "FAILED"
)

// Terminal reports whether the session state admits no further transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionInterrupted, SessionFailed:
		return true
	}
	return false
}

// Role is a user's access role.
type Role string

const (
	RoleUser        Role = "USER"
	RoleTechSupport Role = "TECH_SUPPORT"
	RoleAdmin       Role = "ADMIN"
)

// Valid reports whether the role is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleTechSupport || r == RoleAdmin
}

// Station is a physical site hosting one or more charging ports.
type Station struct {
	StationID    string        `json:"stationId"`
	Name         string        `json:"name"`
	Address      string        `json:"address"`
	Latitude     float64       `json:"latitude"`
	Longitude    float64       `json:"longitude"`
	TotalPorts   int           `json:"totalPorts"`
	PowerKw      float64       `json:"powerKw"`
	TariffPerKwh float64       `json:"tariffPerKwh"`
	Status       StationStatus `json:"status"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Ports        []Port        `json:"ports,omitempty"`
}

// Port is an individually allocatable charging outlet.
type Port struct {
	PortID     string     `json:"portId"`
	StationID  string     `json:"stationId"`
	PortNumber int        `json:"portNumber"`
	Status     PortStatus `json:"status"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Session records one charging engagement between a user and a port.
type Session struct {
	SessionID          string        `json:"sessionId"`
	UserID             string        `json:"userId"`
	StationID          string        `json:"stationId"`
	PortID             string        `json:"portId"`
	Status             SessionStatus `json:"status"`
	ChargePercent      float64       `json:"chargePercent"`
	EnergyConsumedKwh  float64       `json:"energyConsumedKwh"`
	TotalCost          float64       `json:"totalCost"`
	TariffPerKwh       float64       `json:"tariffPerKwh"`
	BatteryCapacityKwh float64       `json:"batteryCapacityKwh"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
	CompletedAt        *time.Time    `json:"completedAt"`
}

// Rounded returns a copy with the display rounding applied: charge percent
// and cost to 2 decimals, energy to 4. Part of the compatibility surface.
func (s Session) Rounded() Session {
	s.ChargePercent = Round2(s.ChargePercent)
	s.EnergyConsumedKwh = Round4(s.EnergyConsumedKwh)
	s.TotalCost = Round2(s.TotalCost)
	return s
}

// User is an account known to the system.
type User struct {
	UserID    string    `json:"userId"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	Blocked   bool      `json:"blocked"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// LogStatus is the triage state of an operational error log entry.
type LogStatus string

const (
	LogNew        LogStatus = "NEW"
	LogInProgress LogStatus = "IN_PROGRESS"
	LogResolved   LogStatus = "RESOLVED"
)

// ErrorLog is an operational error or notification entry for tech support.
type ErrorLog struct {
	ErrorID   string    `json:"errorId"`
	Service   string    `json:"service"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Status    LogStatus `json:"logStatus"`
	Details   string    `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Round2 rounds to 2 decimals using multiply-round-divide, not banker's
// rounding, so 10.005 becomes 10.01.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Round4 rounds to 4 decimals using multiply-round-divide.
func Round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
