package mock

// BusWrite is one addressed write seen by a Bus.
type BusWrite struct {
	Address int
	Line    string
}

// Bus is a scripted isobus.Bus.
type Bus struct {
	BusName  string
	WriteErr error

	Written []BusWrite
	// ReadAddresses holds the address of every read, in order.
	ReadAddresses []int

	script
}

func NewBus(name string, replies ...Reply) *Bus {
	return &Bus{
		BusName: name,
		script:  script{replies: replies},
	}
}

func (b *Bus) Script(replies ...Reply) {
	b.replies = append(b.replies, replies...)
}

func (b *Bus) Name() string {
	return b.BusName
}

func (b *Bus) WriteLine(address int, line string) error {
	if b.WriteErr != nil {
		return b.WriteErr
	}
	b.Written = append(b.Written, BusWrite{Address: address, Line: line})
	b.next()
	return nil
}

func (b *Bus) ReadLine(address int, maxLen int) (string, error) {
	b.ReadAddresses = append(b.ReadAddresses, address)
	return b.read(maxLen)
}

// Lines returns the written lines without addresses.
func (b *Bus) Lines() []string {
	out := make([]string, len(b.Written))
	for i, w := range b.Written {
		out[i] = w.Line
	}
	return out
}
