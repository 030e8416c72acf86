package monitor

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule is the round period when none is configured.
const DefaultSchedule = "30m"

// Cadence is a parsed round schedule.
type Cadence struct {
	cron.Schedule
	// Every is the fixed period for interval schedules (0 for cron).
	Every  time.Duration
	Source string // "duration" | "hhmm" | "cron"
}

var (
	reHHMM     = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)
	cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
)

// ParseSchedule accepts a Go duration ("30m"), an HH:MM interval ("00:30")
// or a cron expression ("*/30 * * * *", "@hourly"). A "cron:" or
// "every:" prefix forces the kind.
func ParseSchedule(raw string) (Cadence, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		s = DefaultSchedule
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	case strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@"):
		return parseCron(s)
	}
	return parseEvery(s)
}

func parseCron(expr string) (Cadence, error) {
	if expr == "" {
		return Cadence{}, fmt.Errorf("%w: empty cron expression", ErrConfiguration)
	}
	sch, err := cronParser.Parse(expr)
	if err != nil {
		return Cadence{}, fmt.Errorf("%w: schedule %q: %v", ErrConfiguration, expr, err)
	}
	return Cadence{Schedule: sch, Source: "cron"}, nil
}

func parseEvery(v string) (Cadence, error) {
	src := "duration"
	var d time.Duration
	if m := reHHMM.FindStringSubmatch(v); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return Cadence{}, fmt.Errorf("%w: invalid minutes in %q", ErrConfiguration, v)
		}
		d = time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		src = "hhmm"
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Cadence{}, fmt.Errorf("%w: invalid schedule %q (use '30m', '00:30' or a cron expression)", ErrConfiguration, v)
		}
	}
	if d < time.Second {
		return Cadence{}, fmt.Errorf("%w: schedule %q: interval must be >= 1s", ErrConfiguration, v)
	}
	return Cadence{Schedule: cron.Every(d), Every: d, Source: src}, nil
}

func (c Cadence) String() string {
	if c.Every > 0 {
		return "every " + c.Every.String()
	}
	return c.Source
}
