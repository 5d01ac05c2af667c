package service

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/novacal/novacal-api/internal/models"
)

// HolidayService computes public holidays per region and year. Results are
// memoised in-process; holiday sets for a closed year never change.
type HolidayService struct {
	logger *zap.Logger
	memo   *gocache.Cache
}

// NewHolidayService constructs a HolidayService.
func NewHolidayService(logger *zap.Logger) *HolidayService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HolidayService{
		logger: logger,
		memo:   gocache.New(24*time.Hour, time.Hour),
	}
}

// ForYear returns the holiday set for one region and year, keyed by local
// date string.
func (s *HolidayService) ForYear(region string, year int) map[string]models.Holiday {
	key := fmt.Sprintf("%s:%d", region, year)
	if cached, ok := s.memo.Get(key); ok {
		return cached.(map[string]models.Holiday)
	}

	set := computeHolidays(region, year)
	s.memo.Set(key, set, gocache.DefaultExpiration)
	return set
}

// IsHoliday reports whether the local date is a holiday for the profile,
// merging regional holidays with the profile's custom list.
func (s *HolidayService) IsHoliday(profile *models.AvailabilityProfile, date time.Time) bool {
	day := date.Format("2006-01-02")
	for _, custom := range profile.CustomHolidays {
		if custom == day {
			return true
		}
	}
	if !profile.AutoHolidays || profile.HolidayRegion == "" {
		return false
	}
	_, ok := s.ForYear(profile.HolidayRegion, date.Year())[day]
	return ok
}

type holidayRule struct {
	name string
	// month/day for fixed holidays; easterOffset for movable ones.
	month        time.Month
	day          int
	easterOffset int
	movable      bool
}

// Regional rule tables. Regions not listed yield no automatic holidays;
// profiles fall back to custom holidays.
var holidayRules = map[string][]holidayRule{
	"US": {
		{name: "New Year's Day", month: time.January, day: 1},
		{name: "Independence Day", month: time.July, day: 4},
		{name: "Veterans Day", month: time.November, day: 11},
		{name: "Christmas Day", month: time.December, day: 25},
	},
	"DE": {
		{name: "Neujahr", month: time.January, day: 1},
		{name: "Tag der Arbeit", month: time.May, day: 1},
		{name: "Tag der Deutschen Einheit", month: time.October, day: 3},
		{name: "1. Weihnachtstag", month: time.December, day: 25},
		{name: "2. Weihnachtstag", month: time.December, day: 26},
		{name: "Karfreitag", movable: true, easterOffset: -2},
		{name: "Ostermontag", movable: true, easterOffset: 1},
		{name: "Christi Himmelfahrt", movable: true, easterOffset: 39},
		{name: "Pfingstmontag", movable: true, easterOffset: 50},
	},
	"GB": {
		{name: "New Year's Day", month: time.January, day: 1},
		{name: "Christmas Day", month: time.December, day: 25},
		{name: "Boxing Day", month: time.December, day: 26},
		{name: "Good Friday", movable: true, easterOffset: -2},
		{name: "Easter Monday", movable: true, easterOffset: 1},
	},
	"FR": {
		{name: "Jour de l'an", month: time.January, day: 1},
		{name: "Fête du Travail", month: time.May, day: 1},
		{name: "Fête Nationale", month: time.July, day: 14},
		{name: "Noël", month: time.December, day: 25},
		{name: "Lundi de Pâques", movable: true, easterOffset: 1},
		{name: "Ascension", movable: true, easterOffset: 39},
	},
}

func computeHolidays(region string, year int) map[string]models.Holiday {
	rules, ok := holidayRules[region]
	if !ok {
		return map[string]models.Holiday{}
	}

	easter := easterSunday(year)
	out := make(map[string]models.Holiday, len(rules))
	for _, rule := range rules {
		var date time.Time
		if rule.movable {
			date = easter.AddDate(0, 0, rule.easterOffset)
		} else {
			date = time.Date(year, rule.month, rule.day, 0, 0, 0, 0, time.UTC)
		}
		key := date.Format("2006-01-02")
		out[key] = models.Holiday{Date: key, Name: rule.name, Region: region}
	}
	return out
}

// easterSunday computes Gregorian Easter via the anonymous Meeus algorithm.
func easterSunday(year int) time.Time {
	a := year % 19
	b := year / 100
	c := year % 100
	d := b / 4
	e := b % 4
	f := (b + 8) / 25
	g := (b - f + 1) / 3
	h := (19*a + b - d - g + 15) % 30
	i := c / 4
	k := c % 4
	l := (32 + 2*e + 2*i - h - k) % 7
	m := (a + 11*h + 22*l) / 451
	month := (h + l - 7*m + 114) / 31
	day := (h+l-7*m+114)%31 + 1
	return time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
}
