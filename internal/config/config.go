package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"    // time for duration knobs
)

// Config holds all runtime configuration values.  Each field maps to
// one environment variable.  Admission and lease knobs are durations
// and counts because that is how the protocol consumes them; product
// policy parameters (unlock lead, permit budget) live here rather than
// as constants in the core packages.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify session JWTs

	QueuePermits   int           // concurrent READY tickets per show
	ReadyWindow    time.Duration // checkout window once admitted
	TicketGrace    time.Duration // how long terminal tickets stay queryable
	HoldTTL        time.Duration // seat hold lifetime
	MaxSeats       int           // per-(client, show) hold cap
	CaptchaTTL     time.Duration // challenge lifetime
	CaptchaDigits  int           // challenge answer length
	DigestCost     int           // bcrypt cost for challenge answer digests
	SweepInterval  time.Duration // background tick/expire cadence
	ZoneUnlockLead time.Duration // how far before zones.opens_at seats unlock
}

// Load reads configuration from environment variables.  Connection and
// secret values are required and enforced by must(); protocol knobs
// fall back to sensible defaults.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),
		Port:      must("APP_PORT"),
		DBUser:    must("DB_USER"),
		DBPass:    os.Getenv("DB_PASS"), // empty allowed
		DBHost:    must("DB_HOST"),
		DBPort:    must("DB_PORT"),
		DBName:    must("DB_NAME"),
		JWTSecret: must("JWT_SECRET"),

		QueuePermits:   intOr("QUEUE_PERMITS", 50),
		ReadyWindow:    durOr("QUEUE_READY_WINDOW", 5*time.Minute),
		TicketGrace:    durOr("QUEUE_TICKET_GRACE", 10*time.Minute),
		HoldTTL:        durOr("HOLD_TTL", 120*time.Second),
		MaxSeats:       intOr("MAX_SEATS_PER_CLIENT", 4),
		CaptchaTTL:     durOr("CAPTCHA_TTL", 90*time.Second),
		CaptchaDigits:  intOr("CAPTCHA_DIGITS", 6),
		DigestCost:     intOr("CAPTCHA_DIGEST_COST", 6),
		SweepInterval:  durOr("SWEEP_INTERVAL", time.Second),
		ZoneUnlockLead: durOr("ZONE_UNLOCK_LEAD", 0),
	}
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// intOr reads an integer variable, falling back to def when unset and
// exiting when set to something unparseable.
func intOr(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		log.Fatalf("invalid int for %s: %q", key, s)
	}
	return n
}

// durOr reads a Go duration variable ("90s", "2m"), falling back to
// def when unset and exiting on parse failure.
func durOr(key string, def time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", key, s)
	}
	return d
}
