package generator

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"event-pipeline/internal/events"
)

const (
	DefaultUserPoolSize = 1000
	DefaultIPPoolSize   = 500
	minIPPoolSize       = 10
)

var ErrInvalidOptions = errors.New("invalid generator options")

type Options struct {
	UserPoolSize int
	IPPoolSize   int
	// Seed fixes the pools and every draw; zero seeds from the clock.
	Seed uint64
	// Now stamps events; defaults to time.Now.
	Now func() time.Time
}

// Generator produces synthetic events over a fixed pool of identities.
// It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	src *rand.ChaCha8
	rng *rand.Rand

	attack *AttackMode
	now    func() time.Time

	userIDs []string
	emails  []string
	ips     []string
}

// New builds the identity pools. A nil attack switch means the generator
// stays in normal mode.
func New(opts Options, attack *AttackMode) (*Generator, error) {
	if opts.UserPoolSize == 0 {
		opts.UserPoolSize = DefaultUserPoolSize
	}
	if opts.IPPoolSize == 0 {
		opts.IPPoolSize = DefaultIPPoolSize
	}
	if opts.UserPoolSize < 0 {
		return nil, fmt.Errorf("%w: user pool size %d", ErrInvalidOptions, opts.UserPoolSize)
	}
	if opts.IPPoolSize < minIPPoolSize {
		return nil, fmt.Errorf("%w: ip pool size %d, need at least %d", ErrInvalidOptions, opts.IPPoolSize, minIPPoolSize)
	}
	if opts.Seed == 0 {
		opts.Seed = uint64(time.Now().UnixNano())
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if attack == nil {
		attack = NewAttackMode(false)
	}

	var seed [32]byte
	binary.LittleEndian.PutUint64(seed[:8], opts.Seed)
	src := rand.NewChaCha8(seed)

	g := &Generator{
		src:    src,
		rng:    rand.New(src),
		attack: attack,
		now:    opts.Now,
	}

	g.userIDs = make([]string, opts.UserPoolSize)
	g.emails = make([]string, opts.UserPoolSize)
	for i := range g.userIDs {
		g.userIDs[i] = g.newUUID()
		g.emails[i] = g.newEmail(i)
	}
	g.ips = make([]string, opts.IPPoolSize)
	for i := range g.ips {
		g.ips[i] = g.newIPv4()
	}
	return g, nil
}

// AttackMode returns the switch this generator reads.
func (g *Generator) AttackMode() *AttackMode {
	return g.attack
}

// Generate returns one event of a randomly chosen type. The attack switch is
// read once, so a concurrent toggle never yields a mixed-profile event.
func (g *Generator) Generate() events.Event {
	return g.Sample().Event
}

// Sample is a generated event together with the profile it was drawn under.
type Sample struct {
	Event  events.Event
	Attack bool
}

func (s Sample) Mode() string {
	return modeLabel(s.Attack)
}

func (g *Generator) Sample() Sample {
	attack := g.attack.Enabled()

	g.mu.Lock()
	defer g.mu.Unlock()
	return Sample{Event: g.generate(g.pickType(attack), attack), Attack: attack}
}

// GenerateOfType returns one event of type t under the current profile.
func (g *Generator) GenerateOfType(t events.Type) (events.Event, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %q", events.ErrUnknownEventType, string(t))
	}
	attack := g.attack.Enabled()

	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generate(t, attack), nil
}

// Users returns a copy of the user pool.
func (g *Generator) Users() []string {
	return append([]string(nil), g.userIDs...)
}

// IPs returns a copy of the source address pool.
func (g *Generator) IPs() []string {
	return append([]string(nil), g.ips...)
}

// AttackIPs is the concentrated prefix of the address pool used in attack mode.
func (g *Generator) AttackIPs() []string {
	return append([]string(nil), g.ips[:g.attackIPCount()]...)
}

func (g *Generator) attackIPCount() int {
	return max(len(g.ips)/10, 1)
}

func (g *Generator) generate(t events.Type, attack bool) events.Event {
	base := g.base(attack)
	switch t {
	case events.TypeAccountActivity:
		return g.accountActivity(base, attack)
	case events.TypeAPIRequest:
		return g.apiRequest(base, attack)
	default:
		return g.emailSend(base, attack)
	}
}

func (g *Generator) pickType(attack bool) events.Type {
	if attack && g.rng.Float64() < 0.6 {
		return events.TypeAccountActivity
	}
	return pick(g.rng, eventTypes)
}

func (g *Generator) base(attack bool) events.BaseEvent {
	ip := g.ips[g.rng.IntN(len(g.ips))]
	if attack {
		ip = g.ips[g.rng.IntN(g.attackIPCount())]
	}
	return events.BaseEvent{
		ID:        g.newUUID(),
		Timestamp: events.FormatTimestamp(g.now()),
		SourceIP:  ip,
		UserID:    pick(g.rng, g.userIDs),
	}
}

func (g *Generator) accountActivity(base events.BaseEvent, attack bool) *events.AccountActivityEvent {
	threshold := 0.05
	if attack {
		threshold = 0.7
	}
	ev := &events.AccountActivityEvent{
		BaseEvent: base,
		Action:    pick(g.rng, actions),
		Success:   g.rng.Float64() > threshold,
		UserAgent: pick(g.rng, userAgents),
		GeoLocation: events.GeoLocation{
			Country:   pick(g.rng, countries),
			City:      pick(g.rng, cities),
			Latitude:  g.coordinate(90),
			Longitude: g.coordinate(180),
		},
	}
	if !ev.Success {
		ev.FailureReason = events.StringPtr("Invalid credentials")
	}
	return ev
}

func (g *Generator) apiRequest(base events.BaseEvent, attack bool) *events.APIRequestEvent {
	ev := &events.APIRequestEvent{
		BaseEvent: base,
		Path:      pick(g.rng, apiPaths),
		Method:    pick(g.rng, httpMethods),
	}

	if attack && g.rng.Float64() > 0.8 {
		ev.ResponseTimeMs = int(g.rng.Float64()*10000 + 1000)
	} else {
		ev.ResponseTimeMs = int(g.rng.Float64()*200 + 50)
	}

	r := g.rng.Float64()
	if attack {
		switch {
		case r < 0.4:
			ev.StatusCode = 500
		case r < 0.6:
			ev.StatusCode = 429
		case r < 0.8:
			ev.StatusCode = 200
		default:
			ev.StatusCode = 400
		}
	} else {
		switch {
		case r < 0.95:
			ev.StatusCode = 200
		case r < 0.98:
			ev.StatusCode = 400
		default:
			ev.StatusCode = 500
		}
	}

	ev.UserAgent = pick(g.rng, userAgents)
	ev.RequestSize = g.rng.IntN(10000)
	ev.ResponseSize = g.rng.IntN(50000)
	return ev
}

func (g *Generator) emailSend(base events.BaseEvent, attack bool) *events.EmailEvent {
	threshold := 0.05
	if attack {
		threshold = 0.4
	}
	ev := &events.EmailEvent{
		BaseEvent:  base,
		Success:    g.rng.Float64() > threshold,
		TemplateID: pick(g.rng, emailTemplates),
		BounceType: events.BounceNone,
	}
	if ev.Success {
		ev.MessageID = events.StringPtr(g.newUUID())
	} else {
		ev.BounceType = events.BounceSoft
		if g.rng.Float64() > 0.5 {
			ev.BounceType = events.BounceHard
		}
		ev.FailureReason = events.StringPtr("Bounce: " + string(ev.BounceType))
	}
	ev.RecipientEmail = pick(g.rng, g.emails)
	return ev
}

// coordinate draws from [-limit, limit] at four decimal places.
func (g *Generator) coordinate(limit float64) float64 {
	v := g.rng.Float64()*2*limit - limit
	return math.Round(v*1e4) / 1e4
}

func (g *Generator) newUUID() string {
	id, err := uuid.NewRandomFromReader(g.src)
	if err != nil {
		// ChaCha8.Read never fails
		panic(err)
	}
	return id.String()
}

func (g *Generator) newEmail(i int) string {
	return pick(g.rng, emailNames) + "." + strconv.Itoa(i) + "@" + pick(g.rng, emailDomains)
}

func (g *Generator) newIPv4() string {
	return strconv.Itoa(1+g.rng.IntN(223)) + "." +
		strconv.Itoa(g.rng.IntN(256)) + "." +
		strconv.Itoa(g.rng.IntN(256)) + "." +
		strconv.Itoa(1+g.rng.IntN(254))
}

func pick[T any](rng *rand.Rand, items []T) T {
	return items[rng.IntN(len(items))]
}
