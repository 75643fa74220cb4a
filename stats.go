package isobus

import "fmt"

type Stats struct {
	Commands     uint64
	Attempts     uint64
	Retries      uint64
	DeviceErrors uint64
	Timeouts     uint64
	Errors       uint64
	SentBytes    uint64
	RecvBytes    uint64
}

func (st Stats) String() string {
	return fmt.Sprintf("commands: %d attempts: %d retries: %d device errors: %d timeouts: %d errors: %d sent: %d recv: %d",
		st.Commands, st.Attempts, st.Retries, st.DeviceErrors, st.Timeouts, st.Errors, st.SentBytes, st.RecvBytes)
}

func (i *Interface) Stats() Stats {
	return i.stats
}
