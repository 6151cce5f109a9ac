// Package holiday detects broadcast-worthy festivals so the episode opening
// can acknowledge them. Solar dates are matched directly; traditional
// festivals are resolved through the lunisolar calendar.
package holiday

import (
	"fmt"
	"time"

	"github.com/6tail/lunar-go/calendar"
)

var solarFestivals = map[string]string{
	"01-01": "New Year's Day",
	"05-01": "Labor Day",
	"10-01": "National Day",
}

type lunarDate struct {
	month int
	day   int
}

var lunarFestivals = map[lunarDate]string{
	{1, 1}:  "Spring Festival",
	{1, 15}: "Lantern Festival",
	{5, 5}:  "Dragon Boat Festival",
	{8, 15}: "Mid-Autumn Festival",
}

// Greeting returns an opening instruction for the festival falling on t, or
// an empty string on an ordinary day.
func Greeting(t time.Time) string {
	if name, ok := solarFestivals[t.Format("01-02")]; ok {
		return instruction(name)
	}

	lunar := calendar.NewSolar(t.Year(), int(t.Month()), t.Day(), 0, 0, 0).GetLunar()
	// Leap months carry a negative month number and host no festivals.
	if name, ok := lunarFestivals[lunarDate{lunar.GetMonth(), lunar.GetDay()}]; ok {
		return instruction(name)
	}
	return ""
}

func instruction(name string) string {
	return fmt.Sprintf("Today is %s. Open the show with a warm, brief holiday greeting before the first story.", name)
}
