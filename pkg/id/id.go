package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Monotonic keeps ids minted in the same millisecond strictly increasing.
	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New returns a ULID string. ULIDs sort by creation time, which keeps
// journal rows and sandbox order ids in the order they were produced.
func New() string {
	return At(time.Now())
}

// At returns a ULID stamped with t.
func At(t time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(t.UTC()), mono)
	if err != nil {
		// entropy overflow within a single millisecond
		panic(err)
	}
	return id.String()
}

// WithPrefix returns prefix_ULID, e.g. SANDBOX_01J....
func WithPrefix(prefix string) string {
	return strings.ToUpper(prefix) + "_" + New()
}

// Time extracts the creation time of a ULID produced by this package.
func Time(s string) (time.Time, error) {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	u, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(u.Time()), nil
}
