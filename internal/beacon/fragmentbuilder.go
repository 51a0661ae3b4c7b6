package beacon

import (
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openkit-go/beacon-agent/internal/percentenc"
)

// reservedUnderscore is the additional-reserved set passed to every
// string encode: the underscore is escaped so it is unambiguous against
// its use as a separator inside web-request tags.
const reservedUnderscore = "_"

// fragmentBuilder accumulates "key=value" pairs into a single '&'-joined
// string, omitting any pair whose value is absent or failed to encode.
// It never rewrites a previously emitted pair and never emits a leading
// or trailing delimiter, matching the EventFragment payload contract.
type fragmentBuilder struct {
	b   strings.Builder
	any bool
	log logrus.FieldLogger
}

func newFragmentBuilder(log logrus.FieldLogger) *fragmentBuilder {
	return &fragmentBuilder{log: log}
}

func (f *fragmentBuilder) addRaw(key, value string) {
	if f.any {
		f.b.WriteByte('&')
	}
	f.b.WriteString(key)
	f.b.WriteByte('=')
	f.b.WriteString(value)
	f.any = true
}

// addString percent-encodes value and appends key=value. If encoding
// fails (non-UTF-8 input), the pair is dropped and a warning is logged;
// the rest of the fragment still proceeds.
func (f *fragmentBuilder) addString(key, value string) {
	enc, err := percentenc.Encode(value, reservedUnderscore)
	if err != nil {
		if f.log != nil {
			f.log.WithError(err).WithField("key", key).Warn("beacon: dropping unencodable value")
		}
		return
	}
	f.addRaw(key, enc)
}

// addStringPtr omits the pair entirely when value is nil.
func (f *fragmentBuilder) addStringPtr(key string, value *string) {
	if value == nil {
		return
	}
	f.addString(key, *value)
}

func (f *fragmentBuilder) addInt(key string, value int64) {
	f.addRaw(key, strconv.FormatInt(value, 10))
}

// addIntOmitNegative skips the pair when value is negative, the
// convention for bs/br/rc.
func (f *fragmentBuilder) addIntOmitNegative(key string, value int) {
	if value < 0 {
		return
	}
	f.addInt(key, int64(value))
}

// addFloat renders value with the shortest round-trip decimal form and a
// '.' separator (never exponential notation).
func (f *fragmentBuilder) addFloat(key string, value float64) {
	f.addRaw(key, strconv.FormatFloat(value, 'f', -1, 64))
}

func (f *fragmentBuilder) String() string {
	return f.b.String()
}

func (f *fragmentBuilder) Len() int {
	return f.b.Len()
}

// truncateName trims leading/trailing whitespace then truncates to
// protocol.MaxNameLength runes, applied before encoding.
func truncateName(name string, maxLen int) string {
	trimmed := strings.TrimSpace(name)
	r := []rune(trimmed)
	if len(r) <= maxLen {
		return trimmed
	}
	return string(r[:maxLen])
}
