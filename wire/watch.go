package wire

import (
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
)

// ValueType selects how watched bytes are interpreted.
type ValueType byte

const (
	Unsigned ValueType = 'u'
	Signed   ValueType = 's'
	Float    ValueType = 'f'
)

func (t ValueType) valid() bool {
	return t == Unsigned || t == Signed || t == Float
}

// Watch identifies a memory location to observe.
type Watch struct {
	Address   uint64
	Size      int
	BigEndian bool
	Type      ValueType
	Domain    string
}

// WatchValue is a value pushed by the subprocess for a watch.
type WatchValue struct {
	Watch
	Value string
}

// watchFields is the number of comma separated fields in a watch key.
const watchFields = 5

// String returns the canonical comma form
// "address,size,bigEndian,type,domain".
func (w Watch) String() string {
	big := "0"
	if w.BigEndian {
		big = "1"
	}
	return strconv.FormatUint(w.Address, 10) + "," +
		strconv.Itoa(w.Size) + "," +
		big + "," +
		string(w.Type) + "," +
		w.Domain
}

// Key hashes the canonical key tuple with FNV-1a.
func (w Watch) Key() uint64 {
	h := fnv.New64a()
	h.Write([]byte(w.String()))
	return h.Sum64()
}

// Validate checks the size and type fields.
func (w Watch) Validate() error {
	switch w.Size {
	case 1, 2, 4, 8:
	default:
		return fmt.Errorf("%w: watch size %d", ErrMalformed, w.Size)
	}
	if !w.Type.valid() {
		return fmt.Errorf("%w: watch type %q", ErrMalformed, w.Type)
	}
	if w.Type == Float && w.Size != 4 && w.Size != 8 {
		return fmt.Errorf("%w: float watch of size %d", ErrMalformed, w.Size)
	}
	if strings.Contains(w.Domain, ",") {
		return fmt.Errorf("%w: domain %q contains a comma", ErrMalformed, w.Domain)
	}
	return nil
}

func parseWatchFields(f []string) (Watch, error) {
	addr, err := strconv.ParseUint(f[0], 10, 64)
	if err != nil {
		return Watch{}, fmt.Errorf("%w: address %q", ErrMalformed, f[0])
	}
	size, err := strconv.Atoi(f[1])
	if err != nil {
		return Watch{}, fmt.Errorf("%w: size %q", ErrMalformed, f[1])
	}
	var big bool
	switch f[2] {
	case "0", "false":
	case "1", "true":
		big = true
	default:
		return Watch{}, fmt.Errorf("%w: big endian flag %q", ErrMalformed, f[2])
	}
	if len(f[3]) != 1 {
		return Watch{}, fmt.Errorf("%w: type %q", ErrMalformed, f[3])
	}
	w := Watch{Address: addr, Size: size, BigEndian: big, Type: ValueType(f[3][0]), Domain: f[4]}
	if err := w.Validate(); err != nil {
		return Watch{}, err
	}
	return w, nil
}

// ParseWatch parses the five field form produced by Watch.String.
func ParseWatch(s string) (Watch, error) {
	f := strings.Split(s, ",")
	if len(f) != watchFields {
		return Watch{}, fmt.Errorf("%w: watch has %d fields, want %d", ErrMalformed, len(f), watchFields)
	}
	return parseWatchFields(f)
}

// FormatWatchValue renders the six field push form
// "address,size,bigEndian,type,domain,value".
func FormatWatchValue(v WatchValue) string {
	return v.Watch.String() + "," + v.Value
}

// ParseWatchValue parses a six field push. The value is the remainder after
// the fifth comma and may itself contain commas.
func ParseWatchValue(s string) (WatchValue, error) {
	f := strings.SplitN(s, ",", watchFields+1)
	if len(f) != watchFields+1 {
		return WatchValue{}, fmt.Errorf("%w: watch value has %d fields, want %d", ErrMalformed, len(f), watchFields+1)
	}
	w, err := parseWatchFields(f[:watchFields])
	if err != nil {
		return WatchValue{}, err
	}
	return WatchValue{Watch: w, Value: f[watchFields]}, nil
}
