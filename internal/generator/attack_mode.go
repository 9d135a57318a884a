package generator

import "sync/atomic"

// AttackMode is the shared switch between normal and attack traffic profiles.
// The zero value is normal mode.
type AttackMode struct {
	on atomic.Bool
}

func NewAttackMode(enabled bool) *AttackMode {
	m := &AttackMode{}
	m.on.Store(enabled)
	return m
}

func (m *AttackMode) Set(enabled bool) {
	m.on.Store(enabled)
}

func (m *AttackMode) Enabled() bool {
	return m != nil && m.on.Load()
}

// Label is used for log fields and metric labels.
func (m *AttackMode) Label() string {
	return modeLabel(m.Enabled())
}

func modeLabel(attack bool) string {
	if attack {
		return "attack"
	}
	return "normal"
}
